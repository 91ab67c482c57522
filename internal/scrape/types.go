// Package scrape defines core types shared across subsystems.
package scrape

import (
	"time"
)

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// transition. Terminal states reject everything.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case JobStatusPending:
		return next == JobStatusRunning || next == JobStatusCancelled
	case JobStatusRunning:
		return next == JobStatusPaused || next == JobStatusCompleted ||
			next == JobStatusFailed || next == JobStatusCancelled
	case JobStatusPaused:
		return next == JobStatusRunning || next == JobStatusCancelled
	default:
		return false
	}
}

// JobConfig carries per-source parameters requested by the client. The
// orchestrator passes it through to adapters without interpreting it, except
// for DedupGlobal which widens duplicate detection across historical jobs.
type JobConfig struct {
	Locations   []string          `json:"locations,omitempty"`
	Categories  []string          `json:"categories,omitempty"`
	MaxRecords  int               `json:"max_records,omitempty"`
	DedupGlobal bool              `json:"dedup_global,omitempty"`
	Options     map[string]string `json:"options,omitempty"`
}

// Progress tracks per-job counters. All fields are monotonically
// non-decreasing for the lifetime of a run.
type Progress struct {
	TotalEstimated        int `json:"total_estimated"`
	ItemsFound            int `json:"items_found"`
	ItemsSaved            int `json:"items_saved"`
	ItemsSkippedDuplicate int `json:"items_skipped_duplicate"`
	ItemsFailed           int `json:"items_failed"`
}

// JobError is one recorded per-source failure. The job-level error log is
// append-only and capped; oldest entries are evicted first.
type JobError struct {
	At      time.Time `json:"timestamp"`
	Source  string    `json:"source"`
	Message string    `json:"message"`
}

// Job represents the metadata persisted for each submitted scrape request.
type Job struct {
	ID             string     `json:"id"`
	Status         JobStatus  `json:"status"`
	Sources        []string   `json:"sources"`
	Config         JobConfig  `json:"config"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	Progress       Progress   `json:"progress"`
	Errors         []JobError `json:"errors,omitempty"`
	Submitted      time.Time  `json:"submitted_at"`
	Started        *time.Time `json:"started_at,omitempty"`
	Completed      *time.Time `json:"completed_at,omitempty"`
}

// ProgressSnapshot is the ephemeral view of a job's counters written to the
// progress store and broadcast to subscribers. It is reconstructable from the
// job record, so losing it is non-fatal.
type ProgressSnapshot struct {
	JobID                 string    `json:"job_id"`
	Status                JobStatus `json:"status"`
	TotalEstimated        int       `json:"total_estimated"`
	ItemsFound            int       `json:"items_found"`
	ItemsSaved            int       `json:"items_saved"`
	ItemsSkippedDuplicate int       `json:"items_skipped_duplicate"`
	ItemsFailed           int       `json:"items_failed"`
	Timestamp             time.Time `json:"timestamp"`
}

// Snapshot derives the broadcastable view from a job's current counters.
func (j Job) Snapshot(at time.Time) ProgressSnapshot {
	return ProgressSnapshot{
		JobID:                 j.ID,
		Status:                j.Status,
		TotalEstimated:        j.Progress.TotalEstimated,
		ItemsFound:            j.Progress.ItemsFound,
		ItemsSaved:            j.Progress.ItemsSaved,
		ItemsSkippedDuplicate: j.Progress.ItemsSkippedDuplicate,
		ItemsFailed:           j.Progress.ItemsFailed,
		Timestamp:             at,
	}
}

// RawRecord is one unparsed listing produced by a SourceAdapter. Name and
// Location (or ListingURL) feed the fingerprint; Fields is passed through
// opaquely to the persisted payload.
type RawRecord struct {
	Name       string            `json:"name"`
	Location   string            `json:"location"`
	ListingURL string            `json:"listing_url,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// LeadRecord is the deduplicated, persisted form of a scraped listing. It is
// never mutated by the orchestrator after persistence.
type LeadRecord struct {
	Fingerprint string            `json:"fingerprint"`
	Source      string            `json:"source"`
	JobID       string            `json:"job_id"`
	Name        string            `json:"name"`
	Location    string            `json:"location"`
	ListingURL  string            `json:"listing_url,omitempty"`
	Payload     map[string]string `json:"payload,omitempty"`
	CapturedAt  time.Time         `json:"captured_at"`
}

// SourceRequest captures everything an adapter needs for one fetch pass.
type SourceRequest struct {
	JobID  string
	Source string
	Config JobConfig
}
