package notify

import (
	"context"

	"github.com/dakota002/gcn.nasa.gov/pkg/logger"
)

// LogMailer writes messages to the log instead of sending them. For local
// development.
type LogMailer struct {
	from   string
	logger *logger.Logger
}

// NewLogMailer creates a log-only mailer
func NewLogMailer(from string, log *logger.Logger) *LogMailer {
	return &LogMailer{from: from, logger: log}
}

// Send logs the message
func (m *LogMailer) Send(ctx context.Context, recipient, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.logger.Info("Mail (not sent)",
		logger.String("from", m.from),
		logger.String("recipient", recipient),
		logger.String("subject", subject),
		logger.String("body", body),
	)
	return nil
}
