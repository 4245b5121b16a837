package notify

import "fmt"

// Template names, used as metric labels
const (
	TemplateInvalidFormat     = "invalid_format"
	TemplateMissingPermission = "missing_permission"
	TemplateSuccess           = "success"
)

// SupportFormURL is where submitters can ask for access.
const SupportFormURL = "https://heasarc.gsfc.nasa.gov/cgi-bin/Feedback?selected=kafkagcn"

// Templates renders the outbound messages for one deployment domain,
// e.g. "gcn.nasa.gov" or "dev.gcn.nasa.gov".
type Templates struct {
	Domain string
}

// FromAddress is the fixed sender of every notification.
func (t Templates) FromAddress() string {
	return "no-reply@" + t.Domain
}

// InvalidFormat is sent when the subject or body fails the format rules.
func (t Templates) InvalidFormat() (subject, body string) {
	return "GCN Circular Submission Warning: Invalid subject or body structure",
		fmt.Sprintf("The submission of your Circular has been rejected, as the subject line and body do not conform to the appropriate format. Please see https://%s/circulars/classic#submission-process for more information.", t.Domain)
}

// MissingPermission is sent when the sender is not in the submitter group.
func (t Templates) MissingPermission() (subject, body string) {
	return "GCN Circular Submission Warning: Missing permissions",
		fmt.Sprintf("You do not have the required permissions to submit GCN Circulars. If you believe this to be a mistake, please fill out the form at %s, and we will look into resolving it as soon as possible.", SupportFormURL)
}

// Success confirms a created Circular.
func (t Templates) Success(circularID uint64) (subject, body string) {
	return fmt.Sprintf("Successfully submitted Circular: %d", circularID),
		fmt.Sprintf("Your circular has been successfully submitted. You may view it at %s", t.CircularURL(circularID))
}

// CircularURL is the public page of a Circular.
func (t Templates) CircularURL(circularID uint64) string {
	return fmt.Sprintf("https://%s/circulars/%d", t.Domain, circularID)
}
