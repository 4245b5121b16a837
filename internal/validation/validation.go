// Package validation holds the format rules applied to Circular submissions.
package validation

import (
	"strings"

	"github.com/dakota002/gcn.nasa.gov/internal/domain/entity"
)

// DefaultSubjectKeywords is the list of mission and event keywords of which a
// subject must contain at least one.
var DefaultSubjectKeywords = []string{
	"AGILE", "ALMA", "AMON", "ANTARES", "ASAS-SN", "ATA", "ATCA", "AXP",
	"CHIME", "CTA", "Chandra", "EP", "FXT", "Fermi", "GRB", "GW", "HAWC",
	"HST", "IBAS", "ICECUBE", "INTEGRAL", "IPN", "IceCube", "JWST", "KAGRA",
	"KONUS", "LIGO", "LOFAR", "LVC", "LVK", "MAGIC", "MASTER", "MAXI",
	"POLAR", "Pan-STARRS", "RATIR", "SDSS", "SGR", "SVOM", "Swift", "TESS",
	"VLA", "VLBI", "Virgo", "XRB", "XRF", "XRT", "ZTF", "grb", "transient",
}

var autoReplyPrefixes = []string{
	"this is an automatic reply",
	"automatic reply: ",
	"auto reply",
	"autoreply",
	"vacation",
	"out of the office",
	"out of office",
	"away from the office",
}

// Rules evaluates subjects and bodies
type Rules struct {
	keywords []string
}

// NewRules creates rules with the given subject keywords. An empty list
// selects DefaultSubjectKeywords.
func NewRules(keywords []string) *Rules {
	if len(keywords) == 0 {
		keywords = DefaultSubjectKeywords
	}
	return &Rules{keywords: keywords}
}

// SubjectIsValid reports whether subject is not an auto-reply and mentions at
// least one keyword. Keyword matching is case-sensitive.
func (r *Rules) SubjectIsValid(subject string) bool {
	if IsAutoReply(subject) {
		return false
	}
	for _, kw := range r.keywords {
		if strings.Contains(subject, kw) {
			return true
		}
	}
	return false
}

// BodyIsValid reports whether body has non-whitespace content.
func (r *Rules) BodyIsValid(body string) bool {
	return strings.TrimSpace(body) != ""
}

// IsAutoReply reports whether subject looks like an out-of-office or other
// automatic response.
func IsAutoReply(subject string) bool {
	lower := strings.ToLower(strings.TrimSpace(subject))
	for _, prefix := range autoReplyPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// FormatAuthor renders the submitter line stored on a Circular:
// "email", "name <email>" or "name at affiliation <email>".
func FormatAuthor(identity *entity.SubmitterIdentity) string {
	switch {
	case identity.Name == "":
		return identity.Email
	case identity.Affiliation == "":
		return identity.Name + " <" + identity.Email + ">"
	default:
		return identity.Name + " at " + identity.Affiliation + " <" + identity.Email + ">"
	}
}
