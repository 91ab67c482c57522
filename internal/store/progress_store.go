// Package store declares the progress store contract without binding any
// driver. Storage providers implement it under internal/storage.
package store

import (
	"context"
	"errors"

	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/scrape"
)

// ErrNotFound signals that no snapshot exists for the job.
var ErrNotFound = errors.New("progress snapshot not found")

// ProgressStore holds the latest snapshot per job. The cache-backed
// implementation is a performance aid only; callers must always be able to
// reconstruct the snapshot from the durable job record.
type ProgressStore interface {
	Get(ctx context.Context, jobID string) (scrape.ProgressSnapshot, error)
	Set(ctx context.Context, snapshot scrape.ProgressSnapshot) error
	Delete(ctx context.Context, jobID string) error
}
