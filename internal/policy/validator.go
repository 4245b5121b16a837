// Package policy decides whether a parsed submission may become a Circular.
package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/dakota002/gcn.nasa.gov/internal/domain/entity"
	"github.com/dakota002/gcn.nasa.gov/pkg/logger"
)

// DefaultSubmitterGroup is the directory group whose members may submit.
const DefaultSubmitterGroup = "gcn.nasa.gov/circular-submitter"

// Directory attribute names
const (
	AttrSub         = "sub"
	AttrEmail       = "email"
	AttrName        = "name"
	AttrAffiliation = "custom:affiliation"
)

var (
	// ErrInvalidFormat rejects a submission whose subject or body is invalid.
	ErrInvalidFormat = errors.New("invalid subject or body structure")
	// ErrNotSubmitter rejects a sender that is not in the submitter group.
	ErrNotSubmitter = errors.New("sender is not a circular submitter")
)

// AttributeMissingError reports a directory record without a required attribute.
type AttributeMissingError struct {
	Username  string
	Attribute string
}

func (e *AttributeMissingError) Error() string {
	return fmt.Sprintf("directory user %q is missing required attribute %q", e.Username, e.Attribute)
}

// IsRejection reports whether err is a policy rejection rather than a fault.
func IsRejection(err error) bool {
	return errors.Is(err, ErrInvalidFormat) || errors.Is(err, ErrNotSubmitter)
}

// Directory lists the members of a group with their attributes
type Directory interface {
	ListGroupMembers(ctx context.Context, group string) ([]entity.DirectoryUser, error)
}

// FormatRules are the subject and body predicates
type FormatRules interface {
	SubjectIsValid(subject string) bool
	BodyIsValid(body string) bool
}

// Validator applies the format and authorization checks
type Validator struct {
	directory Directory
	rules     FormatRules
	group     string
	logger    *logger.Logger
}

// NewValidator creates a validator. An empty group selects DefaultSubmitterGroup.
func NewValidator(directory Directory, rules FormatRules, group string, log *logger.Logger) *Validator {
	if group == "" {
		group = DefaultSubmitterGroup
	}
	return &Validator{
		directory: directory,
		rules:     rules,
		group:     group,
		logger:    log,
	}
}

// CheckFormat returns ErrInvalidFormat unless both subject and body pass.
func (v *Validator) CheckFormat(msg *entity.ParsedMessage) error {
	if msg == nil ||
		msg.Subject == "" ||
		!v.rules.SubjectIsValid(msg.Subject) ||
		msg.Body == "" ||
		!v.rules.BodyIsValid(msg.Body) {
		return ErrInvalidFormat
	}
	return nil
}

// Authorize finds the submitter group member whose email equals email exactly
// and returns its identity. A member lacking an email attribute, or a match
// lacking sub, is an *AttributeMissingError.
func (v *Validator) Authorize(ctx context.Context, email string) (*entity.SubmitterIdentity, error) {
	members, err := v.directory.ListGroupMembers(ctx, v.group)
	if err != nil {
		v.logger.Error("Failed to list submitter group",
			logger.String("group", v.group),
			logger.Error(err),
		)
		return nil, fmt.Errorf("failed to list members of %s: %w", v.group, err)
	}

	for _, member := range members {
		memberEmail, err := required(member, AttrEmail)
		if err != nil {
			return nil, err
		}
		if memberEmail != email {
			continue
		}

		sub, err := required(member, AttrSub)
		if err != nil {
			return nil, err
		}

		return &entity.SubmitterIdentity{
			Sub:         sub,
			Email:       memberEmail,
			Name:        member.Attributes[AttrName],
			Affiliation: member.Attributes[AttrAffiliation],
		}, nil
	}

	v.logger.Info("Sender is not in submitter group",
		logger.String("group", v.group),
		logger.Int("members", len(members)),
	)
	return nil, ErrNotSubmitter
}

func required(user entity.DirectoryUser, attr string) (string, error) {
	value := user.Attributes[attr]
	if value == "" {
		return "", &AttributeMissingError{Username: user.Username, Attribute: attr}
	}
	return value, nil
}
