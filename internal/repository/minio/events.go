package minio

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/minio/minio-go/v7/pkg/notification"

	"github.com/dakota002/gcn.nasa.gov/internal/domain/entity"
)

// EventsFromRecords converts S3 notification records. Object keys are
// URL-encoded in notifications ("+" for space) and are decoded here; a key
// that fails to decode is passed through unchanged.
func EventsFromRecords(records []notification.Event) []entity.IncomingEvent {
	events := make([]entity.IncomingEvent, 0, len(records))
	for _, rec := range records {
		events = append(events, entity.IncomingEvent{
			Bucket:    rec.S3.Bucket.Name,
			Key:       decodeKey(rec.S3.Object.Key),
			EventName: rec.EventName,
		})
	}
	return events
}

// DecodeNotification parses a notification document of the form
// {"Records":[...]}, as delivered by MinIO webhook/NATS targets and S3.
func DecodeNotification(data []byte) ([]entity.IncomingEvent, error) {
	var doc struct {
		Records []notification.Event `json:"Records"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode notification: %w", err)
	}
	return EventsFromRecords(doc.Records), nil
}

func decodeKey(key string) string {
	decoded, err := url.QueryUnescape(key)
	if err != nil {
		return key
	}
	return decoded
}
