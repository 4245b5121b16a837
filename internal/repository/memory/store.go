// Package memory provides in-process implementations of the record store and
// the directory. They are meant for local development and tests; a deployment
// with more than one instance must use a durable backend.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dakota002/gcn.nasa.gov/internal/allocator"
	"github.com/dakota002/gcn.nasa.gov/internal/domain/entity"
)

// Store implements allocator.CounterStore
type Store struct {
	mu       sync.Mutex
	counters map[string]uint64
	records  map[string]map[uint64]entity.Circular

	// FailCommit, when set, is returned by CommitAllocation instead of writing.
	FailCommit error
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		counters: make(map[string]uint64),
		records:  make(map[string]map[uint64]entity.Circular),
	}
}

func counterID(table, key string) string {
	return table + "/" + key
}

// ReadCounter returns the current counter value
func (s *Store) ReadCounter(ctx context.Context, table, key string) (uint64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.counters[counterID(table, key)]
	return value, ok, nil
}

// CommitAllocation advances the counter and inserts the record atomically
func (s *Store) CommitAllocation(ctx context.Context, req *allocator.CommitRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if req == nil || req.Record == nil {
		return fmt.Errorf("commit request must carry a record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailCommit != nil {
		return s.FailCommit
	}

	id := counterID(req.CounterTable, req.CounterKey)
	current, ok := s.counters[id]
	if ok != req.Exists || (ok && current != req.Previous) {
		return allocator.ErrConflict
	}

	table := s.records[req.RecordTable]
	if table == nil {
		table = make(map[uint64]entity.Circular)
		s.records[req.RecordTable] = table
	}
	if _, taken := table[req.Next]; taken {
		return allocator.ErrConflict
	}

	s.counters[id] = req.Next
	record := *req.Record
	record.CircularID = req.Next
	table[req.Next] = record

	return nil
}

// Records returns every stored record of a table ordered by identifier
func (s *Store) Records(table string) []entity.Circular {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]entity.Circular, 0, len(s.records[table]))
	for _, c := range s.records[table] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CircularID < out[j].CircularID })
	return out
}

// Ping always succeeds
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}
