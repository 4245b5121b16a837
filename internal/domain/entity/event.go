package entity

import "strings"

// EventObjectCreatedPut is the only storage event type that triggers ingestion.
const EventObjectCreatedPut = "ObjectCreated:Put"

// IncomingEvent is one notification that an object was written to storage.
type IncomingEvent struct {
	Bucket    string
	Key       string
	EventName string
}

// IsObjectCreatedPut reports whether the event is a plain object upload.
// MinIO prefixes event names with "s3:", AWS does not.
func (e IncomingEvent) IsObjectCreatedPut() bool {
	return strings.TrimPrefix(e.EventName, "s3:") == EventObjectCreatedPut
}

// String identifies the event in logs and errors.
func (e IncomingEvent) String() string {
	return e.Bucket + "/" + e.Key
}

// EventBatch is one delivery from an event source. Err is set when the
// source failed and Events should be ignored.
type EventBatch struct {
	Events []IncomingEvent
	Err    error
}

// FaultRecord describes one event that faulted. Bucket and Key are what an
// operator passes to "circularctl replay" to redrive it.
type FaultRecord struct {
	BatchID    string `json:"batchId"`
	Bucket     string `json:"bucket"`
	Key        string `json:"key"`
	EventName  string `json:"eventName"`
	CircularID uint64 `json:"circularId,omitempty"` // set when the circular was created before the fault
	Error      string `json:"error"`
	FailedOn   int64  `json:"failedOn"` // unix milliseconds
}
