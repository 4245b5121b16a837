// Package nats connects the service to NATS: it receives storage
// notifications and publishes created circulars.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dakota002/gcn.nasa.gov/internal/domain/entity"
	"github.com/dakota002/gcn.nasa.gov/pkg/logger"
)

// Config holds NATS client configuration.
type Config struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
	Username      string
	Password      string
	Token         string

	// CircularSubject receives every created circular as JSON.
	CircularSubject string
	// FaultSubject receives a FaultRecord for every faulted event.
	FaultSubject string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:             nats.DefaultURL,
		Name:            "circulars-ingest",
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		Timeout:         5 * time.Second,
		CircularSubject: "gcn.circulars",
		FaultSubject:    "gcn.circulars.faults",
	}
}

// MessageHandler processes one message payload.
type MessageHandler func(ctx context.Context, data []byte) error

// Client wraps a NATS connection.
type Client struct {
	conn         *nats.Conn
	subject      string
	faultSubject string
	logger       *logger.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewClient connects to NATS.
func NewClient(cfg Config, log *logger.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", logger.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("NATS reconnected", logger.String("url", c.ConnectedUrl()))
		}),
	}

	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Client{
		conn:         conn,
		subject:      cfg.CircularSubject,
		faultSubject: cfg.FaultSubject,
		logger:       log,
	}, nil
}

// PublishCircular publishes a created circular as JSON.
func (c *Client) PublishCircular(ctx context.Context, circular *entity.Circular) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if circular == nil {
		return fmt.Errorf("circular cannot be nil")
	}

	data, err := json.Marshal(circular)
	if err != nil {
		return fmt.Errorf("marshal circular: %w", err)
	}

	if err := c.conn.Publish(c.subject, data); err != nil {
		return fmt.Errorf("failed to publish circular %d: %w", circular.CircularID, err)
	}
	return nil
}

// PublishFault publishes a faulted event as JSON so it can be inspected and
// redriven. Pair the subject with a JetStream stream to keep the records.
func (c *Client) PublishFault(ctx context.Context, fault *entity.FaultRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if fault == nil {
		return fmt.Errorf("fault cannot be nil")
	}
	if c.faultSubject == "" {
		return fmt.Errorf("fault subject is not configured")
	}

	data, err := json.Marshal(fault)
	if err != nil {
		return fmt.Errorf("marshal fault: %w", err)
	}

	if err := c.conn.Publish(c.faultSubject, data); err != nil {
		return fmt.Errorf("failed to publish fault for %s/%s: %w", fault.Bucket, fault.Key, err)
	}
	return nil
}

// QueueSubscribe registers handler on subject within a queue group so that
// each message is processed by one instance only.
func (c *Client) QueueSubscribe(subject, queue string, handler MessageHandler) error {
	sub, err := c.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		if err := handler(context.Background(), msg.Data); err != nil {
			c.logger.Error("Message handler failed",
				logger.String("subject", msg.Subject),
				logger.String("queue", queue),
				logger.Error(err),
			)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	return nil
}

// Ping reports whether the connection is up.
func (c *Client) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.conn.IsConnected() {
		return fmt.Errorf("NATS is not connected: %s", c.conn.Status())
	}
	return nil
}

// Drain lets in-flight handlers finish, then closes the connection.
func (c *Client) Drain() error {
	return c.conn.Drain()
}

// Close unsubscribes and closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.subs = nil

	c.conn.Close()
}
