// Package memory provides in-memory store implementations for development
// and testing.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/scrape"
)

const defaultMaxErrors = 50

// JobStore keeps job records in process memory behind one mutex.
type JobStore struct {
	mu        sync.RWMutex
	jobs      map[string]scrape.Job
	byIdemKey map[string]string
	maxErrors int
}

// NewJobStore constructs a JobStore with the default error-log cap.
func NewJobStore() *JobStore {
	return NewJobStoreWithCap(defaultMaxErrors)
}

// NewJobStoreWithCap constructs a JobStore with an explicit error-log cap.
func NewJobStoreWithCap(maxErrors int) *JobStore {
	if maxErrors <= 0 {
		maxErrors = defaultMaxErrors
	}
	return &JobStore{
		jobs:      make(map[string]scrape.Job),
		byIdemKey: make(map[string]string),
		maxErrors: maxErrors,
	}
}

// CreateJob stores a new job record.
func (s *JobStore) CreateJob(_ context.Context, job scrape.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = cloneJob(job)
	if job.IdempotencyKey != "" {
		s.byIdemKey[job.IdempotencyKey] = job.ID
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.Job{}, scrape.ErrJobNotFound
	}
	return cloneJob(job), nil
}

// FindByIdempotencyKey looks up the job previously created with the key.
func (s *JobStore) FindByIdempotencyKey(_ context.Context, key string) (scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobID, ok := s.byIdemKey[key]
	if !ok {
		return scrape.Job{}, scrape.ErrJobNotFound
	}
	return cloneJob(s.jobs[jobID]), nil
}

// ListJobs returns jobs ordered by submission time descending.
func (s *JobStore) ListJobs(_ context.Context, status *scrape.JobStatus, limit, offset int) ([]scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []scrape.Job
	for _, job := range s.jobs {
		if status != nil && job.Status != *status {
			continue
		}
		out = append(out, cloneJob(job))
	}
	sortJobsBySubmitted(out)
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// UpdateStatus transitions the job; writes against a terminal job are no-ops.
func (s *JobStore) UpdateStatus(_ context.Context, jobID string, status scrape.JobStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.ErrJobNotFound
	}
	if job.Status.IsTerminal() {
		return nil
	}
	job.Status = status
	if status == scrape.JobStatusRunning && job.Started == nil {
		job.Started = pointerTime(at)
	}
	if status.IsTerminal() {
		job.Completed = pointerTime(at)
	}
	s.jobs[jobID] = job
	return nil
}

// UpdateProgress replaces the job's counters; terminal jobs are left alone.
func (s *JobStore) UpdateProgress(_ context.Context, jobID string, progress scrape.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.ErrJobNotFound
	}
	if job.Status.IsTerminal() {
		return nil
	}
	job.Progress = progress
	s.jobs[jobID] = job
	return nil
}

// AppendError records a per-source failure, evicting the oldest entry once
// the cap is reached.
func (s *JobStore) AppendError(_ context.Context, jobID string, jobErr scrape.JobError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.ErrJobNotFound
	}
	job.Errors = append(job.Errors, jobErr)
	if len(job.Errors) > s.maxErrors {
		job.Errors = job.Errors[len(job.Errors)-s.maxErrors:]
	}
	s.jobs[jobID] = job
	return nil
}

func cloneJob(job scrape.Job) scrape.Job {
	cp := job
	cp.Sources = append([]string(nil), job.Sources...)
	cp.Errors = append([]scrape.JobError(nil), job.Errors...)
	return cp
}

func sortJobsBySubmitted(jobs []scrape.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].Submitted.After(jobs[j].Submitted)
	})
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
