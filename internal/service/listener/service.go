package listener

import (
	"context"
	"sync"
	"time"

	"github.com/dakota002/gcn.nasa.gov/internal/domain/entity"
	"github.com/dakota002/gcn.nasa.gov/internal/metrics"
	"github.com/dakota002/gcn.nasa.gov/pkg/logger"
)

// EventSource delivers storage events until ctx is cancelled or the source
// fails, then closes the channel
type EventSource interface {
	Listen(ctx context.Context) <-chan entity.EventBatch
}

// BatchHandler processes one delivery of events
type BatchHandler interface {
	HandleBatch(ctx context.Context, events []entity.IncomingEvent) error
}

// Config represents listener configuration
type Config struct {
	Enabled        bool
	ReconnectDelay time.Duration
}

// Service feeds events from a source into the ingestion pipeline
type Service struct {
	source         EventSource
	handler        BatchHandler
	logger         *logger.Logger
	reconnectDelay time.Duration
	enabled        bool

	stopCh chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewService creates a new listener service
func NewService(source EventSource, handler BatchHandler, cfg Config, log *logger.Logger) *Service {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	return &Service{
		source:         source,
		handler:        handler,
		logger:         log,
		reconnectDelay: cfg.ReconnectDelay,
		enabled:        cfg.Enabled,
		stopCh:         make(chan struct{}),
	}
}

// Start starts listening in the background
func (s *Service) Start(ctx context.Context) error {
	if !s.enabled {
		s.logger.Info("Bucket notification listener is disabled")
		return nil
	}

	s.logger.Info("Starting bucket notification listener",
		logger.Duration("reconnect_delay", s.reconnectDelay),
	)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Stop leaves stopCh nil; a restart needs a fresh channel
	if s.stopCh == nil {
		s.stopCh = make(chan struct{})
	}

	s.wg.Add(1)
	go s.listenLoop(ctx, s.stopCh)

	return nil
}

// Stop stops listening and waits for the batch in flight
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopCh == nil {
		return
	}

	s.logger.Info("Stopping bucket notification listener...")
	close(s.stopCh)
	s.stopCh = nil
	s.wg.Wait()
	s.logger.Info("Bucket notification listener stopped")
}

func (s *Service) listenLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	for {
		s.consume(ctx, stopCh)

		select {
		case <-ctx.Done():
			s.logger.Info("Listener context cancelled")
			return
		case <-stopCh:
			s.logger.Info("Listener received stop signal")
			return
		case <-time.After(s.reconnectDelay):
			s.logger.Info("Reconnecting to bucket notifications")
		}
	}
}

// consume reads one subscription until it closes or the service stops
func (s *Service) consume(ctx context.Context, stopCh <-chan struct{}) {
	listenCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	batches := s.source.Listen(listenCtx)
	for {
		select {
		case <-stopCh:
			return
		case batch, ok := <-batches:
			if !ok {
				s.logger.Warn("Bucket notification stream closed")
				return
			}
			s.dispatch(ctx, batch)
		}
	}
}

func (s *Service) dispatch(ctx context.Context, batch entity.EventBatch) {
	if batch.Err != nil {
		metrics.SourceErrors.Inc()
		s.logger.Error("Bucket notification error", logger.Error(batch.Err))
		return
	}
	if len(batch.Events) == 0 {
		return
	}

	if err := s.handler.HandleBatch(ctx, batch.Events); err != nil {
		s.logger.Error("Batch processing failed",
			logger.Int("events", len(batch.Events)),
			logger.Error(err),
		)
	}
}
