package nats

import (
	"context"
	"fmt"

	"github.com/dakota002/gcn.nasa.gov/internal/domain/entity"
	"github.com/dakota002/gcn.nasa.gov/internal/repository/minio"
	natsRepo "github.com/dakota002/gcn.nasa.gov/internal/repository/nats"
	"github.com/dakota002/gcn.nasa.gov/pkg/logger"
)

// BatchHandler processes one delivery of events
type BatchHandler interface {
	HandleBatch(ctx context.Context, events []entity.IncomingEvent) error
}

// Subscriber registers a queue subscription
type Subscriber interface {
	QueueSubscribe(subject, queue string, handler natsRepo.MessageHandler) error
}

// NotificationHandler consumes bucket notifications that MinIO publishes to a
// NATS target and feeds them to the ingestion pipeline
type NotificationHandler struct {
	handler BatchHandler
	logger  *logger.Logger
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(handler BatchHandler, log *logger.Logger) *NotificationHandler {
	return &NotificationHandler{
		handler: handler,
		logger:  log,
	}
}

// Subscribe attaches the handler to subject in queue group queue
func (h *NotificationHandler) Subscribe(sub Subscriber, subject, queue string) error {
	if subject == "" {
		return fmt.Errorf("notification subject is required")
	}

	if err := sub.QueueSubscribe(subject, queue, h.Handle); err != nil {
		return err
	}

	h.logger.Info("Subscribed to bucket notifications",
		logger.String("subject", subject),
		logger.String("queue", queue),
	)
	return nil
}

// Handle decodes one notification document and processes its records
func (h *NotificationHandler) Handle(ctx context.Context, data []byte) error {
	events, err := minio.DecodeNotification(data)
	if err != nil {
		h.logger.Warn("Dropping undecodable notification",
			logger.Int("size", len(data)),
			logger.Error(err),
		)
		return err
	}
	if len(events) == 0 {
		return nil
	}

	return h.handler.HandleBatch(ctx, events)
}
