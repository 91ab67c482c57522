package scrape

import (
	"context"
	"time"
)

// JobStore persists job metadata and the per-job error log. Implementations
// must treat writes against a terminal job as no-ops, not errors, so that a
// late duplicate completion signal cannot corrupt a finished run.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	// FindByIdempotencyKey returns ErrJobNotFound when no job carries the key.
	FindByIdempotencyKey(ctx context.Context, key string) (Job, error)
	ListJobs(ctx context.Context, status *JobStatus, limit, offset int) ([]Job, error)
	UpdateStatus(ctx context.Context, jobID string, status JobStatus, at time.Time) error
	UpdateProgress(ctx context.Context, jobID string, progress Progress) error
	AppendError(ctx context.Context, jobID string, jobErr JobError) error
}

// LeadStore persists deduplicated lead records. The (source, fingerprint)
// uniqueness constraint is the ground truth for global deduplication; Insert
// returns ErrDuplicateLead when the record already exists.
type LeadStore interface {
	Insert(ctx context.Context, lead LeadRecord) error
	Exists(ctx context.Context, source, fingerprint string) (bool, error)
	ListByJob(ctx context.Context, jobID string, limit, offset int) ([]LeadRecord, error)
}

// RecordIterator yields raw records lazily. Next returns io.EOF after the
// final record; iterators are finite and never resumable mid-stream.
type RecordIterator interface {
	Next(ctx context.Context) (RawRecord, error)
}

// SourceAdapter produces raw records for one scrape source. Fetch failures
// carry a *SourceError so the worker can pick a retry class.
type SourceAdapter interface {
	Name() string
	Fetch(ctx context.Context, req SourceRequest) (RecordIterator, error)
}

// Publisher pushes lead and job lifecycle events for downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore archives raw payloads and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Hasher computes digests for fingerprinting.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// RetryPolicy governs source-level retries.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(err error, attempt int) time.Duration
}

// Deduplicator decides whether a fingerprint has been seen for a scope.
type Deduplicator interface {
	IsNew(ctx context.Context, scope Scope, source, fingerprint string) (bool, error)
	MarkSeen(ctx context.Context, scope Scope, source, fingerprint string)
	ForgetJob(jobID string)
}

// Scope selects the deduplication boundary for one check.
type Scope struct {
	JobID  string
	Global bool
}
