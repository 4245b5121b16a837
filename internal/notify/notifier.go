// Package notify sends the submitter-facing emails of the ingestion pipeline.
package notify

import (
	"context"
	"fmt"

	"github.com/dakota002/gcn.nasa.gov/internal/metrics"
	"github.com/dakota002/gcn.nasa.gov/pkg/logger"
)

// Mailer delivers one plain-text email from the fixed sender address.
type Mailer interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// DeliveryError is returned when the mail transport rejects a send.
type DeliveryError struct {
	Recipient string
	Template  string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("failed to deliver %s notification to %s: %v", e.Template, e.Recipient, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Notifier renders templates and hands them to a Mailer
type Notifier struct {
	mailer    Mailer
	templates Templates
	logger    *logger.Logger
}

// NewNotifier creates a notifier for the given deployment domain
func NewNotifier(mailer Mailer, domain string, log *logger.Logger) *Notifier {
	return &Notifier{
		mailer:    mailer,
		templates: Templates{Domain: domain},
		logger:    log,
	}
}

// NotifyInvalidFormat tells the sender the submission was malformed.
func (n *Notifier) NotifyInvalidFormat(ctx context.Context, recipient string) error {
	subject, body := n.templates.InvalidFormat()
	return n.send(ctx, TemplateInvalidFormat, recipient, subject, body)
}

// NotifyMissingPermission tells the sender they may not submit.
func (n *Notifier) NotifyMissingPermission(ctx context.Context, recipient string) error {
	subject, body := n.templates.MissingPermission()
	return n.send(ctx, TemplateMissingPermission, recipient, subject, body)
}

// NotifySuccess confirms the new Circular and links to it.
func (n *Notifier) NotifySuccess(ctx context.Context, recipient string, circularID uint64) error {
	subject, body := n.templates.Success(circularID)
	return n.send(ctx, TemplateSuccess, recipient, subject, body)
}

func (n *Notifier) send(ctx context.Context, template, recipient, subject, body string) error {
	if err := n.mailer.Send(ctx, recipient, subject, body); err != nil {
		metrics.NotificationsTotal.WithLabelValues(template, "error").Inc()
		n.logger.Error("Failed to send notification",
			logger.String("template", template),
			logger.String("recipient", recipient),
			logger.Error(err),
		)
		return &DeliveryError{Recipient: recipient, Template: template, Err: err}
	}

	metrics.NotificationsTotal.WithLabelValues(template, "sent").Inc()
	n.logger.Info("Notification sent",
		logger.String("template", template),
		logger.String("recipient", recipient),
	)
	return nil
}
