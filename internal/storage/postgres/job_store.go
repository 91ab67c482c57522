// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/scrape"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// JobStoreConfig controls the connection pool and error-log cap.
type JobStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxErrors       int
}

// JobStore persists scrape jobs. Schema:
//
//	CREATE TABLE scrape_jobs (
//	    id              UUID PRIMARY KEY,
//	    status          TEXT NOT NULL,
//	    sources         TEXT[] NOT NULL,
//	    config          JSONB NOT NULL,
//	    idempotency_key TEXT UNIQUE,
//	    progress        JSONB NOT NULL,
//	    errors          JSONB NOT NULL DEFAULT '[]',
//	    submitted_at    TIMESTAMPTZ NOT NULL,
//	    started_at      TIMESTAMPTZ,
//	    completed_at    TIMESTAMPTZ
//	);
type JobStore struct {
	pool      querier
	maxErrors int
}

const terminalGuard = `status NOT IN ('completed', 'failed', 'cancelled')`

// NewJobStore connects a pool from the config.
func NewJobStore(ctx context.Context, cfg JobStoreConfig) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewJobStoreWithPool(pool, cfg.MaxErrors)
}

// NewJobStoreWithPool wraps an existing pool; used by tests via pgxmock.
func NewJobStoreWithPool(pool querier, maxErrors int) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if maxErrors <= 0 {
		maxErrors = 50
	}
	return &JobStore{pool: pool, maxErrors: maxErrors}, nil
}

// Close releases the connection pool.
func (s *JobStore) Close() {
	s.pool.Close()
}

// CreateJob inserts the job row.
func (s *JobStore) CreateJob(ctx context.Context, job scrape.Job) error {
	configJSON, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	progressJSON, err := json.Marshal(job.Progress)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	var idemKey *string
	if job.IdempotencyKey != "" {
		idemKey = &job.IdempotencyKey
	}
	query := `
		INSERT INTO scrape_jobs (id, status, sources, config, idempotency_key, progress, errors, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, '[]', $7);
	`
	if _, err := s.pool.Exec(
		ctx,
		query,
		job.ID,
		string(job.Status),
		job.Sources,
		configJSON,
		idemKey,
		progressJSON,
		job.Submitted,
	); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob loads one job or scrape.ErrJobNotFound.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (scrape.Job, error) {
	query := `
		SELECT id, status, sources, config, idempotency_key, progress, errors, submitted_at, started_at, completed_at
		FROM scrape_jobs
		WHERE id = $1;
	`
	return s.scanJob(s.pool.QueryRow(ctx, query, jobID))
}

// FindByIdempotencyKey loads the job created with the key, if any.
func (s *JobStore) FindByIdempotencyKey(ctx context.Context, key string) (scrape.Job, error) {
	query := `
		SELECT id, status, sources, config, idempotency_key, progress, errors, submitted_at, started_at, completed_at
		FROM scrape_jobs
		WHERE idempotency_key = $1;
	`
	return s.scanJob(s.pool.QueryRow(ctx, query, key))
}

// ListJobs returns jobs newest-first with optional status filtering.
func (s *JobStore) ListJobs(ctx context.Context, status *scrape.JobStatus, limit, offset int) ([]scrape.Job, error) {
	query := `
		SELECT id, status, sources, config, idempotency_key, progress, errors, submitted_at, started_at, completed_at
		FROM scrape_jobs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY submitted_at DESC
		LIMIT $2 OFFSET $3;
	`
	var statusArg *string
	if status != nil {
		str := string(*status)
		statusArg = &str
	}
	rows, err := s.pool.Query(ctx, query, statusArg, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []scrape.Job
	for rows.Next() {
		job, err := s.scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return jobs, nil
}

// UpdateStatus transitions the job. The WHERE clause excludes terminal rows
// so stale completion signals become no-ops instead of overwrites.
func (s *JobStore) UpdateStatus(ctx context.Context, jobID string, status scrape.JobStatus, at time.Time) error {
	query := `
		UPDATE scrape_jobs
		SET status = $2,
		    started_at = CASE WHEN $2 = 'running' AND started_at IS NULL THEN $3 ELSE started_at END,
		    completed_at = CASE WHEN $2 IN ('completed', 'failed', 'cancelled') THEN $3 ELSE completed_at END
		WHERE id = $1 AND ` + terminalGuard + `;
	`
	tag, err := s.pool.Exec(ctx, query, jobID, string(status), at)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
			return getErr
		}
	}
	return nil
}

// UpdateProgress replaces the progress counters for a non-terminal job.
func (s *JobStore) UpdateProgress(ctx context.Context, jobID string, progress scrape.Progress) error {
	progressJSON, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	query := `UPDATE scrape_jobs SET progress = $2 WHERE id = $1 AND ` + terminalGuard + `;`
	if _, err := s.pool.Exec(ctx, query, jobID, progressJSON); err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return nil
}

// AppendError pushes the entry onto the JSONB error log, trimming to the cap
// from the front.
func (s *JobStore) AppendError(ctx context.Context, jobID string, jobErr scrape.JobError) error {
	entry, err := json.Marshal(jobErr)
	if err != nil {
		return fmt.Errorf("encode job error: %w", err)
	}
	query := `
		UPDATE scrape_jobs
		SET errors = (
			SELECT COALESCE(jsonb_agg(e ORDER BY ord), '[]'::jsonb)
			FROM (
				SELECT e, ord
				FROM jsonb_array_elements(errors || $2::jsonb) WITH ORDINALITY AS t(e, ord)
				ORDER BY ord DESC
				LIMIT $3
			) tail
		)
		WHERE id = $1;
	`
	if _, err := s.pool.Exec(ctx, query, jobID, entry, s.maxErrors); err != nil {
		return fmt.Errorf("append job error: %w", err)
	}
	return nil
}

func (s *JobStore) scanJob(row pgx.Row) (scrape.Job, error) {
	var (
		job          scrape.Job
		status       string
		configJSON   []byte
		progressJSON []byte
		errorsJSON   []byte
		idemKey      *string
	)
	err := row.Scan(
		&job.ID,
		&status,
		&job.Sources,
		&configJSON,
		&idemKey,
		&progressJSON,
		&errorsJSON,
		&job.Submitted,
		&job.Started,
		&job.Completed,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scrape.Job{}, scrape.ErrJobNotFound
		}
		return scrape.Job{}, fmt.Errorf("scan job row: %w", err)
	}
	job.Status = scrape.JobStatus(status)
	if idemKey != nil {
		job.IdempotencyKey = *idemKey
	}
	if err := json.Unmarshal(configJSON, &job.Config); err != nil {
		return scrape.Job{}, fmt.Errorf("decode config: %w", err)
	}
	if err := json.Unmarshal(progressJSON, &job.Progress); err != nil {
		return scrape.Job{}, fmt.Errorf("decode progress: %w", err)
	}
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &job.Errors); err != nil {
			return scrape.Job{}, fmt.Errorf("decode errors: %w", err)
		}
	}
	return job, nil
}
