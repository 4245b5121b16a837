package tarantool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tarantool/go-tarantool/v2"

	"github.com/dakota002/gcn.nasa.gov/internal/allocator"
	"github.com/dakota002/gcn.nasa.gov/internal/domain/entity"
	"github.com/dakota002/gcn.nasa.gov/pkg/logger"
)

// Server-side functions defined in deploy/tarantool/autoincrement.lua
const (
	funcCounterGet = "autoincrement_get"
	funcCommit     = "autoincrement_commit"
)

// Config represents configuration for Tarantool connection
type Config struct {
	Address  string
	User     string
	Password string
	Timeout  time.Duration
}

// Repository implements allocator.CounterStore on top of Tarantool
type Repository struct {
	conn   *tarantool.Connection
	logger *logger.Logger
	mu     sync.RWMutex
	closed bool
}

// NewRepository creates a new Tarantool repository
func NewRepository(cfg *Config, log *logger.Logger) (*Repository, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	dialer := tarantool.NetDialer{
		Address:  cfg.Address,
		User:     cfg.User,
		Password: cfg.Password,
	}

	opts := tarantool.Opts{
		Timeout: cfg.Timeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout(cfg.Timeout))
	defer cancel()

	conn, err := tarantool.Connect(ctx, dialer, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Tarantool: %w", err)
	}

	return &Repository{
		conn:   conn,
		logger: log,
	}, nil
}

func dialTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return 5 * time.Second
	}
	return timeout
}

// Close closes the Tarantool connection
func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true
	return r.conn.Close()
}

// Ping checks if the connection to Tarantool is alive
func (r *Repository) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("repository is closed")
	}

	_, err := r.conn.Ping()
	return err
}

// call executes a Tarantool function
func (r *Repository) call(ctx context.Context, functionName string, args []interface{}) ([]interface{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("repository is closed")
	}

	req := tarantool.NewCall17Request(functionName).Args(args).Context(ctx)
	return r.conn.Do(req).Get()
}

// ReadCounter returns the last issued value of a counter
func (r *Repository) ReadCounter(ctx context.Context, table, key string) (uint64, bool, error) {
	resp, err := r.call(ctx, funcCounterGet, []interface{}{table, key})
	if err != nil {
		return 0, false, fmt.Errorf("failed to read counter: %w", err)
	}

	if len(resp) == 0 || resp[0] == nil {
		return 0, false, nil
	}

	value, err := toUint64(resp[0])
	if err != nil {
		r.logger.Error("Counter holds an invalid value",
			logger.String("table", table),
			logger.String("key", key),
			logger.Error(err),
		)
		return 0, false, fmt.Errorf("failed to read counter %s/%s: %w", table, key, err)
	}
	return value, true, nil
}

// CommitAllocation runs the conditional counter update and the record insert
// inside one box.atomic block on the server.
func (r *Repository) CommitAllocation(ctx context.Context, req *allocator.CommitRequest) error {
	if req == nil || req.Record == nil {
		return fmt.Errorf("commit request must carry a record")
	}

	tuple := []interface{}{
		req.Next,
		req.Record.CreatedOn,
		req.Record.Subject,
		req.Record.Body,
		req.Record.Sub,
		req.Record.Submitter,
	}

	resp, err := r.call(ctx, funcCommit, []interface{}{
		req.CounterTable,
		req.CounterKey,
		req.Exists,
		req.Previous,
		req.Next,
		req.RecordTable,
		tuple,
	})
	if err != nil {
		r.logger.Error("Failed to commit allocation",
			logger.String("counter_key", req.CounterKey),
			logger.Uint64("next", req.Next),
			logger.Error(err),
		)
		return fmt.Errorf("failed to commit allocation: %w", err)
	}

	if len(resp) == 0 {
		return fmt.Errorf("empty response from Tarantool")
	}

	committed, ok := resp[0].(bool)
	if !ok {
		return fmt.Errorf("unexpected commit response type %T", resp[0])
	}
	if !committed {
		return allocator.ErrConflict
	}

	return nil
}

// GetRecord loads a stored circular by its identifier
func (r *Repository) GetRecord(ctx context.Context, table string, id uint64) (*entity.Circular, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("repository is closed")
	}

	req := tarantool.NewSelectRequest(table).
		Iterator(tarantool.IterEq).
		Key([]interface{}{id}).
		Limit(1).
		Context(ctx)

	var tuples [][]interface{}
	if err := r.conn.Do(req).GetTyped(&tuples); err != nil {
		return nil, fmt.Errorf("failed to get record %d: %w", id, err)
	}
	if len(tuples) == 0 {
		return nil, fmt.Errorf("record %d not found", id)
	}

	return decodeCircular(tuples[0])
}

// decodeCircular maps a circulars tuple in the field order of
// deploy/tarantool/autoincrement.lua
func decodeCircular(tuple []interface{}) (*entity.Circular, error) {
	if len(tuple) < 6 {
		return nil, fmt.Errorf("circular tuple has %d fields, want 6", len(tuple))
	}

	id, err := toUint64(tuple[0])
	if err != nil {
		return nil, fmt.Errorf("invalid circularId: %w", err)
	}
	createdOn, err := toUint64(tuple[1])
	if err != nil {
		return nil, fmt.Errorf("invalid createdOn: %w", err)
	}

	c := &entity.Circular{CircularID: id, CreatedOn: int64(createdOn)}
	fields := []*string{&c.Subject, &c.Body, &c.Sub, &c.Submitter}
	for i, dst := range fields {
		v, ok := tuple[i+2].(string)
		if !ok {
			return nil, fmt.Errorf("field %d of circular %d is %T, want string", i+2, id, tuple[i+2])
		}
		*dst = v
	}
	return c, nil
}

// toUint64 converts a msgpack-decoded counter value. Anything that is not a
// non-negative integer is an error rather than a zero counter.
func toUint64(val interface{}) (uint64, error) {
	switch v := val.(type) {
	case uint64:
		return v, nil
	case uint:
		return uint64(v), nil
	case uint8:
		return uint64(v), nil
	case uint16:
		return uint64(v), nil
	case uint32:
		return uint64(v), nil
	case int64:
		return nonNegative(v)
	case int:
		return nonNegative(int64(v))
	case int8:
		return nonNegative(int64(v))
	case int16:
		return nonNegative(int64(v))
	case int32:
		return nonNegative(int64(v))
	default:
		return 0, fmt.Errorf("unexpected counter value %v of type %T", val, val)
	}
}

func nonNegative(v int64) (uint64, error) {
	if v < 0 {
		return 0, fmt.Errorf("negative counter value %d", v)
	}
	return uint64(v), nil
}
