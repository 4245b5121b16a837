package entity

import "time"

// ParsedMessage is the part of an incoming email the pipeline cares about.
type ParsedMessage struct {
	From    string
	Subject string
	Body    string
}

// SubmitterIdentity is a directory member allowed to submit Circulars.
type SubmitterIdentity struct {
	Sub         string
	Email       string
	Name        string
	Affiliation string
}

// DirectoryUser is a raw directory record: a username and its attributes.
type DirectoryUser struct {
	Username   string
	Attributes map[string]string
}

// Circular is the persisted record created from an accepted submission.
type Circular struct {
	CircularID uint64 `json:"circularId"`
	CreatedOn  int64  `json:"createdOn"` // unix milliseconds
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	Sub        string `json:"sub"`
	Submitter  string `json:"submitter"`
}

// NewCircular builds a Circular without an identifier.
func NewCircular(msg *ParsedMessage, identity *SubmitterIdentity, submitter string, now time.Time) *Circular {
	return &Circular{
		CreatedOn: now.UnixMilli(),
		Subject:   msg.Subject,
		Body:      msg.Body,
		Sub:       identity.Sub,
		Submitter: submitter,
	}
}
