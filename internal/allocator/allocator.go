// Package allocator hands out strictly increasing Circular identifiers.
//
// Each allocation reads the named counter and then commits, in a single store
// transaction, the conditional counter update together with the insert of the
// record keyed by the new identifier. A commit whose condition no longer holds
// fails with ErrConflict and is retried with exponential backoff. Identifiers
// may have gaps; they are never issued twice.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dakota002/gcn.nasa.gov/internal/domain/entity"
	"github.com/dakota002/gcn.nasa.gov/internal/metrics"
	"github.com/dakota002/gcn.nasa.gov/pkg/logger"
)

// ErrConflict is returned by a CounterStore when the counter no longer holds
// the observed value or the record key is already taken.
var ErrConflict = errors.New("allocation conflict")

// CommitRequest describes one conditional counter advance plus record insert.
type CommitRequest struct {
	CounterTable string
	CounterKey   string

	// Previous is the counter value observed by ReadCounter. When Exists is
	// false the counter must still be absent at commit time.
	Previous uint64
	Exists   bool
	Next     uint64

	RecordTable string
	Record      *entity.Circular
}

// CounterStore is a durable store with a conditional write primitive.
type CounterStore interface {
	ReadCounter(ctx context.Context, table, key string) (value uint64, exists bool, err error)
	CommitAllocation(ctx context.Context, req *CommitRequest) error
}

// Config represents allocator configuration
type Config struct {
	CounterTable   string
	CounterKey     string
	RecordTable    string
	InitialValue   uint64
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns the sequence used for GCN Circulars.
func DefaultConfig() Config {
	return Config{
		CounterTable:   "auto_increment_metadata",
		CounterKey:     "circulars",
		RecordTable:    "circulars",
		InitialValue:   1,
		MaxAttempts:    10,
		InitialBackoff: 20 * time.Millisecond,
		MaxBackoff:     time.Second,
	}
}

// AllocationError is returned when every commit attempt conflicted.
type AllocationError struct {
	Attempts int
	Err      error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("failed to allocate identifier after %d attempts: %v", e.Attempts, e.Err)
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}

// Allocator assigns identifiers and stores records
type Allocator struct {
	store  CounterStore
	config Config
	logger *logger.Logger
}

// New creates a new allocator. Zero retry settings fall back to defaults.
func New(store CounterStore, cfg Config, log *logger.Logger) *Allocator {
	defaults := DefaultConfig()
	if cfg.InitialValue == 0 {
		cfg.InitialValue = defaults.InitialValue
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaults.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaults.MaxBackoff
	}

	return &Allocator{
		store:  store,
		config: cfg,
		logger: log,
	}
}

// Validate reports configuration that makes allocation impossible.
func (a *Allocator) Validate() error {
	if a.store == nil {
		return fmt.Errorf("counter store is not configured")
	}
	if a.config.CounterTable == "" || a.config.RecordTable == "" {
		return fmt.Errorf("could not resolve tables: counter=%q record=%q", a.config.CounterTable, a.config.RecordTable)
	}
	if a.config.CounterKey == "" {
		return fmt.Errorf("counter key is required")
	}
	return nil
}

// Current returns the last issued identifier, if any.
func (a *Allocator) Current(ctx context.Context) (uint64, bool, error) {
	if err := a.Validate(); err != nil {
		return 0, false, err
	}
	return a.store.ReadCounter(ctx, a.config.CounterTable, a.config.CounterKey)
}

// AllocateAndStore assigns the next identifier to record, persists it and
// returns the identifier. Calling it twice with the same record creates two
// records with distinct identifiers.
func (a *Allocator) AllocateAndStore(ctx context.Context, record *entity.Circular) (uint64, error) {
	if record == nil {
		return 0, fmt.Errorf("record cannot be nil")
	}
	if err := a.Validate(); err != nil {
		return 0, err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(a.config.InitialBackoff),
				backoff.WithMaxInterval(a.config.MaxBackoff),
				backoff.WithMaxElapsedTime(0),
			),
			uint64(a.config.MaxAttempts-1),
		),
		ctx,
	)

	attempts := 0
	id, err := backoff.RetryNotifyWithData(func() (uint64, error) {
		attempts++
		metrics.AllocationAttempts.Inc()
		return a.tryAllocate(ctx, record)
	}, policy, func(err error, wait time.Duration) {
		a.logger.Debug("Allocation conflict, retrying",
			logger.String("counter_key", a.config.CounterKey),
			logger.Int("attempt", attempts),
			logger.Duration("wait", wait),
		)
	})
	if err != nil {
		record.CircularID = 0
		if errors.Is(err, ErrConflict) {
			a.logger.Error("Allocation attempts exhausted",
				logger.String("counter_key", a.config.CounterKey),
				logger.Int("attempts", attempts),
			)
			return 0, &AllocationError{Attempts: attempts, Err: err}
		}
		return 0, fmt.Errorf("failed to allocate identifier: %w", err)
	}

	a.logger.Debug("Identifier allocated",
		logger.String("counter_key", a.config.CounterKey),
		logger.Uint64("circular_id", id),
		logger.Int("attempts", attempts),
	)

	return id, nil
}

// tryAllocate performs one read + conditional commit. Conflicts are returned
// as-is so the caller retries; anything else stops the retry loop.
func (a *Allocator) tryAllocate(ctx context.Context, record *entity.Circular) (uint64, error) {
	previous, exists, err := a.store.ReadCounter(ctx, a.config.CounterTable, a.config.CounterKey)
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("failed to read counter: %w", err))
	}

	next := a.config.InitialValue
	if exists {
		next = previous + 1
	}

	candidate := *record
	candidate.CircularID = next

	err = a.store.CommitAllocation(ctx, &CommitRequest{
		CounterTable: a.config.CounterTable,
		CounterKey:   a.config.CounterKey,
		Previous:     previous,
		Exists:       exists,
		Next:         next,
		RecordTable:  a.config.RecordTable,
		Record:       &candidate,
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			metrics.AllocationConflicts.Inc()
			return 0, err
		}
		return 0, backoff.Permanent(fmt.Errorf("failed to commit allocation: %w", err))
	}

	record.CircularID = next
	return next, nil
}
