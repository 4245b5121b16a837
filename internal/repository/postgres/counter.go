package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dakota002/gcn.nasa.gov/internal/allocator"
	"github.com/dakota002/gcn.nasa.gov/internal/domain/entity"
	"github.com/dakota002/gcn.nasa.gov/pkg/logger"
)

// ReadCounter returns the current counter value
func (r *Repository) ReadCounter(ctx context.Context, table, key string) (uint64, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT value FROM %s WHERE counter_key = $1`, pgx.Identifier{table}.Sanitize())

	var value int64
	err := r.pool.QueryRow(ctx, query, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read counter: %w", err)
	}
	return uint64(value), true, nil
}

// CommitAllocation advances the counter and inserts the record in one
// transaction. A counter that moved or a taken record key is ErrConflict.
func (r *Repository) CommitAllocation(ctx context.Context, req *allocator.CommitRequest) error {
	if req == nil || req.Record == nil {
		return fmt.Errorf("commit request must carry a record")
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	counterTable := pgx.Identifier{req.CounterTable}.Sanitize()
	recordTable := pgx.Identifier{req.RecordTable}.Sanitize()

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var (
			tag pgconn.CommandTag
			err error
		)
		if req.Exists {
			tag, err = tx.Exec(ctx,
				fmt.Sprintf(`UPDATE %s SET value = $1 WHERE counter_key = $2 AND value = $3`, counterTable),
				int64(req.Next), req.CounterKey, int64(req.Previous),
			)
		} else {
			tag, err = tx.Exec(ctx,
				fmt.Sprintf(`INSERT INTO %s (counter_key, value) VALUES ($1, $2) ON CONFLICT (counter_key) DO NOTHING`, counterTable),
				req.CounterKey, int64(req.Next),
			)
		}
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return allocator.ErrConflict
		}

		return insertRecord(ctx, tx, recordTable, req.Next, req.Record)
	})

	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.Is(err, allocator.ErrConflict) || (errors.As(err, &pgErr) && pgErr.Code == "23505") {
		return allocator.ErrConflict
	}

	r.logger.Error("Failed to commit allocation",
		logger.String("counter_key", req.CounterKey),
		logger.Uint64("next", req.Next),
		logger.Error(err),
	)
	return fmt.Errorf("failed to commit allocation: %w", err)
}

func insertRecord(ctx context.Context, tx pgx.Tx, table string, id uint64, c *entity.Circular) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (circular_id, created_on, subject, body, sub, submitter)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, table)

	_, err := tx.Exec(ctx, query, int64(id), c.CreatedOn, c.Subject, c.Body, c.Sub, c.Submitter)
	return err
}

// GetRecord loads a stored circular
func (r *Repository) GetRecord(ctx context.Context, table string, id uint64) (*entity.Circular, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT circular_id, created_on, subject, body, sub, submitter
		FROM %s WHERE circular_id = $1
	`, pgx.Identifier{table}.Sanitize())

	var (
		c          entity.Circular
		circularID int64
	)
	err := r.pool.QueryRow(ctx, query, int64(id)).Scan(
		&circularID, &c.CreatedOn, &c.Subject, &c.Body, &c.Sub, &c.Submitter,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get record %d: %w", id, err)
	}
	c.CircularID = uint64(circularID)
	return &c, nil
}
