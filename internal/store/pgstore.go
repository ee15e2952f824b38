package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardvault/valuation-engine/pkg/models"
)

// ExecutionStore persists Execution Records. Kept on Postgres rather than
// folded into the DynamoDB single table: execution records are queried by
// range (subject, time window) for operational dashboards and don't share
// the Card/Snapshot/Token access pattern the two GSIs were designed around.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// ConnectExecutionStore opens the pgx pool and pings it, mirroring the
// teacher's db.Connect.
func ConnectExecutionStore(ctx context.Context, connStr string) (*ExecutionStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("executionstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("executionstore: ping: %w", err)
	}
	return &ExecutionStore{pool: pool}, nil
}

// Close releases the pool.
func (s *ExecutionStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema creates the execution_records table if absent.
func (s *ExecutionStore) InitSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS execution_records (
			execution_id TEXT PRIMARY KEY,
			card_id      TEXT NOT NULL,
			subject      TEXT NOT NULL,
			state        TEXT NOT NULL,
			started_at   TIMESTAMPTZ NOT NULL,
			ended_at     TIMESTAMPTZ,
			last_error   TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_execution_records_subject_started
			ON execution_records (subject, started_at DESC);
	`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("executionstore: init schema: %w", err)
	}
	return nil
}

// Put inserts or updates an Execution Record (§4.8 error handler writes
// here on every terminal Error transition; the orchestrator also writes a
// row at start so in-flight executions are visible).
func (s *ExecutionStore) Put(ctx context.Context, rec models.ExecutionRecord) error {
	const sql = `
		INSERT INTO execution_records (execution_id, card_id, subject, state, started_at, ended_at, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (execution_id) DO UPDATE SET
			state = EXCLUDED.state, ended_at = EXCLUDED.ended_at, last_error = EXCLUDED.last_error;
	`
	_, err := s.pool.Exec(ctx, sql, rec.ExecutionID, rec.CardID, rec.Subject, rec.State, rec.StartedAt, rec.EndedAt, rec.LastError)
	if err != nil {
		return fmt.Errorf("executionstore: put: %w", err)
	}
	return nil
}

// Get fetches a single execution record, scoped by subject.
func (s *ExecutionStore) Get(ctx context.Context, subject, executionID string) (models.ExecutionRecord, error) {
	const sql = `
		SELECT execution_id, card_id, subject, state, started_at, ended_at, last_error
		FROM execution_records WHERE execution_id = $1 AND subject = $2;
	`
	var rec models.ExecutionRecord
	row := s.pool.QueryRow(ctx, sql, executionID, subject)
	if err := row.Scan(&rec.ExecutionID, &rec.CardID, &rec.Subject, &rec.State, &rec.StartedAt, &rec.EndedAt, &rec.LastError); err != nil {
		return models.ExecutionRecord{}, ErrNotFound
	}
	return rec, nil
}
