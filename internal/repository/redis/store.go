// Package redis implements the counter store on Redis optimistic transactions.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dakota002/gcn.nasa.gov/internal/allocator"
	"github.com/dakota002/gcn.nasa.gov/internal/domain/entity"
	"github.com/dakota002/gcn.nasa.gov/pkg/logger"
)

// Config represents configuration for the Redis connection
type Config struct {
	URL      string
	Password string
	Timeout  time.Duration
}

// Store implements allocator.CounterStore. The counter lives under
// "<table>:<key>" and each record under "<table>:<id>" as JSON.
type Store struct {
	client *redis.Client
	logger *logger.Logger
}

// NewStore parses the URL, connects and pings the server
func NewStore(cfg *Config, log *logger.Logger) (*Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		opt.Password = cfg.Password
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewStoreFromClient(client, log), nil
}

// NewStoreFromClient wraps an existing client
func NewStoreFromClient(client *redis.Client, log *logger.Logger) *Store {
	return &Store{client: client, logger: log}
}

func counterKey(table, key string) string {
	return table + ":" + key
}

func recordKey(table string, id uint64) string {
	return table + ":" + strconv.FormatUint(id, 10)
}

// ReadCounter returns the current counter value
func (s *Store) ReadCounter(ctx context.Context, table, key string) (uint64, bool, error) {
	raw, err := s.client.Get(ctx, counterKey(table, key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read counter: %w", err)
	}

	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("counter %s holds non-numeric value %q", counterKey(table, key), raw)
	}
	return value, true, nil
}

// CommitAllocation watches the counter and record keys, re-checks the
// expected state and writes both inside MULTI/EXEC.
func (s *Store) CommitAllocation(ctx context.Context, req *allocator.CommitRequest) error {
	if req == nil || req.Record == nil {
		return fmt.Errorf("commit request must carry a record")
	}

	record := *req.Record
	record.CircularID = req.Next
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	cKey := counterKey(req.CounterTable, req.CounterKey)
	rKey := recordKey(req.RecordTable, req.Next)

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, cKey).Result()
		switch {
		case errors.Is(err, redis.Nil):
			if req.Exists {
				return allocator.ErrConflict
			}
		case err != nil:
			return err
		default:
			if !req.Exists || current != strconv.FormatUint(req.Previous, 10) {
				return allocator.ErrConflict
			}
		}

		taken, err := tx.Exists(ctx, rKey).Result()
		if err != nil {
			return err
		}
		if taken > 0 {
			return allocator.ErrConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, cKey, strconv.FormatUint(req.Next, 10), 0)
			pipe.Set(ctx, rKey, payload, 0)
			return nil
		})
		return err
	}

	err = s.client.Watch(ctx, txf, cKey, rKey)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, allocator.ErrConflict), errors.Is(err, redis.TxFailedErr):
		return allocator.ErrConflict
	default:
		s.logger.Error("Failed to commit allocation",
			logger.String("counter_key", cKey),
			logger.Uint64("next", req.Next),
			logger.Error(err),
		)
		return fmt.Errorf("failed to commit allocation: %w", err)
	}
}

// GetRecord loads a stored circular
func (s *Store) GetRecord(ctx context.Context, table string, id uint64) (*entity.Circular, error) {
	raw, err := s.client.Get(ctx, recordKey(table, id)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to get record %d: %w", id, err)
	}

	var c entity.Circular
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("failed to decode record %d: %w", id, err)
	}
	return &c, nil
}

// Ping checks if the connection is alive
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client
func (s *Store) Close() error {
	return s.client.Close()
}
