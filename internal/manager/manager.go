// Package manager owns the job lifecycle: creation, the at-most-one-worker
// execution registry, cooperative cancellation, and pause/resume.
package manager

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/metrics"
	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/progress"
	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/scrape"
	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/sources"
	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/store"
	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/worker"
)

// CreateRequest carries the inputs for a new job.
type CreateRequest struct {
	Sources        []string
	Config         scrape.JobConfig
	IdempotencyKey string
}

// Deps bundles the Manager's collaborators.
type Deps struct {
	Jobs        scrape.JobStore
	Leads       scrape.LeadStore
	Progress    store.ProgressStore
	Broadcaster *progress.Broadcaster
	Dedup       scrape.Deduplicator
	Registry    *sources.Registry
	Retry       scrape.RetryPolicy
	Hasher      scrape.Hasher
	Clock       scrape.Clock
	IDGen       scrape.IDGenerator
	Publisher   scrape.Publisher
	Blobs       scrape.BlobStore
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	// WorkerConfig is passed through to each spawned worker.
	WorkerConfig worker.Config
}

// Manager coordinates jobs and their execution workers. Workers run on a
// background context owned by the Manager, so caller request contexts never
// leak into execution.
type Manager struct {
	deps Deps

	baseCtx    context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup

	mu     sync.Mutex
	active map[string]*jobControl

	startedAt map[string]time.Time
}

// New constructs a Manager. Workers it spawns descend from parent, not from
// the contexts passed to individual calls.
func New(parent context.Context, deps Deps) *Manager {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	baseCtx, cancel := context.WithCancel(parent)
	return &Manager{
		deps:       deps,
		baseCtx:    baseCtx,
		cancelBase: cancel,
		active:     make(map[string]*jobControl),
		startedAt:  make(map[string]time.Time),
	}
}

// Create validates the request and persists a new job in the pending state.
// A repeated idempotency key with an identical request returns the existing
// job; the same key with a different request is rejected.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (scrape.Job, error) {
	if err := m.deps.Registry.Validate(req.Sources); err != nil {
		return scrape.Job{}, err
	}
	if req.Config.MaxRecords < 0 {
		return scrape.Job{}, fmt.Errorf("%w: max_records must not be negative", scrape.ErrInvalidConfiguration)
	}

	if req.IdempotencyKey != "" {
		existing, err := m.deps.Jobs.FindByIdempotencyKey(ctx, req.IdempotencyKey)
		switch {
		case err == nil:
			if !reflect.DeepEqual(existing.Sources, req.Sources) || !reflect.DeepEqual(existing.Config, req.Config) {
				return scrape.Job{}, fmt.Errorf("%w: idempotency key %q reused with a different request",
					scrape.ErrInvalidConfiguration, req.IdempotencyKey)
			}
			return existing, nil
		case errors.Is(err, scrape.ErrJobNotFound):
		default:
			return scrape.Job{}, fmt.Errorf("idempotency lookup: %w", err)
		}
	}

	id, err := m.deps.IDGen.NewID()
	if err != nil {
		return scrape.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	job := scrape.Job{
		ID:             id,
		Status:         scrape.JobStatusPending,
		Sources:        append([]string(nil), req.Sources...),
		Config:         req.Config,
		IdempotencyKey: req.IdempotencyKey,
		Submitted:      m.deps.Clock.Now(),
	}
	if err := m.deps.Jobs.CreateJob(ctx, job); err != nil {
		return scrape.Job{}, fmt.Errorf("create job: %w", err)
	}
	m.deps.Logger.Info("job created",
		zap.String("job_id", job.ID),
		zap.Strings("sources", job.Sources),
		zap.Bool("dedup_global", job.Config.DedupGlobal),
	)
	return job, nil
}

// Start transitions a pending job to running and spawns its worker. Starting
// a job that is already running is a no-op returning the current state; a
// terminal or paused job cannot be started.
func (m *Manager) Start(ctx context.Context, jobID string) (scrape.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// The status read happens under the lock so a concurrent Cancel cannot
	// slip between the check and the registry insert.
	job, err := m.deps.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return scrape.Job{}, err
	}
	if _, running := m.active[jobID]; running {
		return job, nil
	}
	if job.Status == scrape.JobStatusRunning {
		// Durably running with no registry entry: a worker lost to a process
		// restart. Starting it again stays a no-op.
		return job, nil
	}
	if job.Status != scrape.JobStatusPending {
		return scrape.Job{}, fmt.Errorf("%w: cannot start job in state %s",
			scrape.ErrInvalidTransition, job.Status)
	}

	runCtx, cancel := context.WithCancel(m.baseCtx)
	ctl := &jobControl{cancel: cancel}
	m.active[jobID] = ctl
	m.startedAt[jobID] = m.deps.Clock.Now()

	w := worker.New(job, worker.Deps{
		Jobs:        m.deps.Jobs,
		Leads:       m.deps.Leads,
		Progress:    m.deps.Progress,
		Broadcaster: m.deps.Broadcaster,
		Dedup:       m.deps.Dedup,
		Registry:    m.deps.Registry,
		Retry:       m.deps.Retry,
		Hasher:      m.deps.Hasher,
		Clock:       m.deps.Clock,
		Publisher:   m.deps.Publisher,
		Blobs:       m.deps.Blobs,
		Metrics:     m.deps.Metrics,
		Gate:        ctl,
		Logger:      m.deps.Logger,
		OnDone:      m.finishJob,
	}, m.deps.WorkerConfig)

	if m.deps.Metrics != nil {
		m.deps.Metrics.JobsStarted.Inc()
		m.deps.Metrics.JobsRunning.Inc()
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		w.Run(runCtx)
	}()

	job.Status = scrape.JobStatusRunning
	return job, nil
}

// Cancel requests cooperative cancellation. A running job stops at its next
// checkpoint and the worker records the terminal state; a pending job is
// cancelled immediately. Cancelling a terminal job is a no-op.
func (m *Manager) Cancel(ctx context.Context, jobID string) (scrape.Job, error) {
	job, err := m.deps.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return scrape.Job{}, err
	}
	if job.Status.IsTerminal() {
		return job, nil
	}

	m.mu.Lock()
	ctl, running := m.active[jobID]
	m.mu.Unlock()

	if running {
		ctl.resume() // wake a paused worker so it can observe the cancel
		ctl.cancel()
		return job, nil
	}

	now := m.deps.Clock.Now()
	if err := m.deps.Jobs.UpdateStatus(ctx, jobID, scrape.JobStatusCancelled, now); err != nil {
		return scrape.Job{}, fmt.Errorf("cancel job: %w", err)
	}
	job.Status = scrape.JobStatusCancelled
	job.Completed = &now
	if m.deps.Broadcaster != nil {
		m.deps.Broadcaster.Publish(jobID, job.Snapshot(now))
		m.deps.Broadcaster.CloseJob(jobID)
	}
	return job, nil
}

// Pause suspends a running job at its next checkpoint. Counters and saved
// records are preserved; Resume continues from that point.
func (m *Manager) Pause(ctx context.Context, jobID string) (scrape.Job, error) {
	job, err := m.deps.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return scrape.Job{}, err
	}

	m.mu.Lock()
	ctl, running := m.active[jobID]
	m.mu.Unlock()
	if !running || job.Status != scrape.JobStatusRunning {
		return scrape.Job{}, fmt.Errorf("%w: cannot pause job in state %s",
			scrape.ErrInvalidTransition, job.Status)
	}

	ctl.pause()
	if err := m.deps.Jobs.UpdateStatus(ctx, jobID, scrape.JobStatusPaused, m.deps.Clock.Now()); err != nil {
		ctl.resume()
		return scrape.Job{}, fmt.Errorf("pause job: %w", err)
	}
	job.Status = scrape.JobStatusPaused
	return job, nil
}

// Resume releases a paused job's worker.
func (m *Manager) Resume(ctx context.Context, jobID string) (scrape.Job, error) {
	job, err := m.deps.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return scrape.Job{}, err
	}

	m.mu.Lock()
	ctl, running := m.active[jobID]
	m.mu.Unlock()
	if !running || job.Status != scrape.JobStatusPaused {
		return scrape.Job{}, fmt.Errorf("%w: cannot resume job in state %s",
			scrape.ErrInvalidTransition, job.Status)
	}

	if err := m.deps.Jobs.UpdateStatus(ctx, jobID, scrape.JobStatusRunning, m.deps.Clock.Now()); err != nil {
		return scrape.Job{}, fmt.Errorf("resume job: %w", err)
	}
	ctl.resume()
	job.Status = scrape.JobStatusRunning
	return job, nil
}

// GetStatus returns the job overlaid with the freshest cached progress
// snapshot. Counters only move forward; a stale cache entry never rolls a
// durable counter back.
func (m *Manager) GetStatus(ctx context.Context, jobID string) (scrape.Job, error) {
	job, err := m.deps.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return scrape.Job{}, err
	}
	snap, err := m.deps.Progress.Get(ctx, jobID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.deps.Logger.Debug("progress cache read failed", zap.String("job_id", jobID), zap.Error(err))
		}
		return job, nil
	}
	job.Progress = mergeProgress(job.Progress, snap)
	return job, nil
}

// ListJobs proxies the store with an optional status filter.
func (m *Manager) ListJobs(ctx context.Context, status *scrape.JobStatus, limit, offset int) ([]scrape.Job, error) {
	return m.deps.Jobs.ListJobs(ctx, status, limit, offset)
}

// ListLeads returns the leads saved by one job.
func (m *Manager) ListLeads(ctx context.Context, jobID string, limit, offset int) ([]scrape.LeadRecord, error) {
	if _, err := m.deps.Jobs.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return m.deps.Leads.ListByJob(ctx, jobID, limit, offset)
}

// ActiveCount reports how many workers are currently registered.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Shutdown cancels all running workers and waits for them to finish their
// terminal writes, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancelBase()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("manager shutdown: %w", ctx.Err())
	}
}

// finishJob clears the registry entry once a worker completes all writes.
func (m *Manager) finishJob(jobID string, status scrape.JobStatus) {
	m.mu.Lock()
	delete(m.active, jobID)
	started, tracked := m.startedAt[jobID]
	delete(m.startedAt, jobID)
	m.mu.Unlock()

	m.deps.Dedup.ForgetJob(jobID)
	if m.deps.Metrics != nil {
		m.deps.Metrics.JobsRunning.Dec()
		m.deps.Metrics.JobsCompleted.WithLabelValues(string(status)).Inc()
		if tracked {
			m.deps.Metrics.JobRuntime.WithLabelValues(string(status)).
				Observe(m.deps.Clock.Now().Sub(started).Seconds())
		}
	}
}

// mergeProgress overlays cached counters onto durable ones, keeping the
// larger of each pair.
func mergeProgress(durable scrape.Progress, snap scrape.ProgressSnapshot) scrape.Progress {
	return scrape.Progress{
		TotalEstimated:        maxInt(durable.TotalEstimated, snap.TotalEstimated),
		ItemsFound:            maxInt(durable.ItemsFound, snap.ItemsFound),
		ItemsSaved:            maxInt(durable.ItemsSaved, snap.ItemsSaved),
		ItemsSkippedDuplicate: maxInt(durable.ItemsSkippedDuplicate, snap.ItemsSkippedDuplicate),
		ItemsFailed:           maxInt(durable.ItemsFailed, snap.ItemsFailed),
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
