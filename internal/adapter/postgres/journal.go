package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Journal implements journal.Store on PostgreSQL. Each recorded step is one
// row keyed by (run_id, step_name); ON CONFLICT DO NOTHING gives first-write-wins.
type Journal struct {
	pool *pgxpool.Pool
}

// NewJournal creates a journal backed by the given connection pool.
func NewJournal(pool *pgxpool.Pool) *Journal {
	return &Journal{pool: pool}
}

func (j *Journal) Get(ctx context.Context, runID, step string) ([]byte, bool, error) {
	var result []byte
	err := j.pool.QueryRow(ctx,
		`SELECT result FROM journal WHERE run_id = $1 AND step_name = $2`,
		runID, step).Scan(&result)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("journal get %s/%s: %w", runID, step, err)
	}
	return result, true, nil
}

func (j *Journal) Record(ctx context.Context, runID, step string, result []byte) error {
	_, err := j.pool.Exec(ctx,
		`INSERT INTO journal (run_id, step_name, result) VALUES ($1, $2, $3)
		 ON CONFLICT (run_id, step_name) DO NOTHING`,
		runID, step, result)
	if err != nil {
		return fmt.Errorf("journal record %s/%s: %w", runID, step, err)
	}
	return nil
}
