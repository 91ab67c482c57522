package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/scrape"
)

// LeadStore persists deduplicated leads. Schema:
//
//	CREATE TABLE leads (
//	    fingerprint TEXT NOT NULL,
//	    source      TEXT NOT NULL,
//	    job_id      UUID NOT NULL,
//	    name        TEXT NOT NULL,
//	    location    TEXT NOT NULL,
//	    listing_url TEXT,
//	    payload     JSONB,
//	    captured_at TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (source, fingerprint)
//	);
//
// The primary key is the ground truth for global deduplication; in-process
// checks are an optimization in front of it.
type LeadStore struct {
	pool querier
}

// NewLeadStore connects a pool from the DSN.
func NewLeadStore(ctx context.Context, dsn string) (*LeadStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewLeadStoreWithPool(pool)
}

// NewLeadStoreWithPool wraps an existing pool; used by tests via pgxmock.
func NewLeadStoreWithPool(pool querier) (*LeadStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &LeadStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *LeadStore) Close() {
	s.pool.Close()
}

// Insert persists the lead; a conflict on (source, fingerprint) reports
// scrape.ErrDuplicateLead so callers can count duplicates without a prior
// read.
func (s *LeadStore) Insert(ctx context.Context, lead scrape.LeadRecord) error {
	payloadJSON, err := json.Marshal(lead.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	query := `
		INSERT INTO leads (fingerprint, source, job_id, name, location, listing_url, payload, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source, fingerprint) DO NOTHING;
	`
	tag, err := s.pool.Exec(
		ctx,
		query,
		lead.Fingerprint,
		lead.Source,
		lead.JobID,
		lead.Name,
		lead.Location,
		lead.ListingURL,
		payloadJSON,
		lead.CapturedAt,
	)
	if err != nil {
		return fmt.Errorf("insert lead: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scrape.ErrDuplicateLead
	}
	return nil
}

// Exists reports whether a lead row is present for (source, fingerprint).
func (s *LeadStore) Exists(ctx context.Context, source, fingerprint string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM leads WHERE source = $1 AND fingerprint = $2);`
	if err := s.pool.QueryRow(ctx, query, source, fingerprint).Scan(&exists); err != nil {
		return false, fmt.Errorf("check lead exists: %w", err)
	}
	return exists, nil
}

// ListByJob returns leads captured by one job, oldest first.
func (s *LeadStore) ListByJob(ctx context.Context, jobID string, limit, offset int) ([]scrape.LeadRecord, error) {
	query := `
		SELECT fingerprint, source, job_id, name, location, listing_url, payload, captured_at
		FROM leads
		WHERE job_id = $1
		ORDER BY captured_at ASC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, jobID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	var leads []scrape.LeadRecord
	for rows.Next() {
		var (
			lead        scrape.LeadRecord
			listingURL  *string
			payloadJSON []byte
			capturedAt  time.Time
		)
		if err := rows.Scan(
			&lead.Fingerprint,
			&lead.Source,
			&lead.JobID,
			&lead.Name,
			&lead.Location,
			&listingURL,
			&payloadJSON,
			&capturedAt,
		); err != nil {
			return nil, fmt.Errorf("scan lead row: %w", err)
		}
		if listingURL != nil {
			lead.ListingURL = *listingURL
		}
		if len(payloadJSON) > 0 {
			if err := json.Unmarshal(payloadJSON, &lead.Payload); err != nil {
				return nil, fmt.Errorf("decode payload: %w", err)
			}
		}
		lead.CapturedAt = capturedAt
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lead rows: %w", err)
	}
	return leads, nil
}
