package sqljob

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const runColumns = `id, job_name, job_type, object_name, source_file, refresh_sql,
	started_at, finished_at, duration_ms, rows_affected, success, message`

// Store persists the append-only job run audit trail.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new job run store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Bootstrap creates the audit table. Safe to run on every startup.
func (s *Store) Bootstrap(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS _swd_job_runs (
			id BIGSERIAL PRIMARY KEY,
			job_name TEXT NOT NULL,
			job_type TEXT NOT NULL,
			object_name TEXT NOT NULL,
			source_file TEXT NOT NULL,
			refresh_sql TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			duration_ms BIGINT NOT NULL,
			rows_affected BIGINT,
			success BOOLEAN NOT NULL,
			message TEXT
		)`)
	return err
}

// RecordResult appends one audit row. q is whatever connection the
// batch holds, so the record rides the same session as the work it
// describes.
func (s *Store) RecordResult(ctx context.Context, q Execer, res Result) error {
	_, err := q.Exec(ctx, `
		INSERT INTO _swd_job_runs (job_name, job_type, object_name, source_file, refresh_sql,
			started_at, finished_at, duration_ms, rows_affected, success, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		res.Definition.Name,
		string(res.Definition.Type),
		res.Definition.Object,
		res.Definition.SourceFile,
		res.Definition.RefreshSQL,
		res.StartedAt,
		res.FinishedAt,
		res.DurationMs,
		res.RowsAffected,
		res.Success,
		res.Message,
	)
	return err
}

func scanRuns(rows pgx.Rows) ([]Run, error) {
	result := make([]Run, 0)
	for rows.Next() {
		var r Run
		var message *string
		if err := rows.Scan(
			&r.ID,
			&r.JobName,
			&r.JobType,
			&r.ObjectName,
			&r.SourceFile,
			&r.RefreshSQL,
			&r.StartedAt,
			&r.FinishedAt,
			&r.DurationMs,
			&r.RowsAffected,
			&r.Success,
			&message,
		); err != nil {
			return nil, err
		}
		if message != nil {
			r.Message = *message
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// RecentRuns returns the newest audit rows first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM _swd_job_runs ORDER BY id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

// Stats returns aggregate counts over the audit trail.
func (s *Store) Stats(ctx context.Context) (*RunStats, error) {
	var stats RunStats
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN NOT success THEN 1 ELSE 0 END), 0),
			MAX(started_at)
		FROM _swd_job_runs
	`).Scan(&stats.Total, &stats.Succeeded, &stats.Failed, &stats.LastStarted)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
