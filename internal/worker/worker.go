// Package worker implements the scrape-and-persist execution loop for one
// job. A Worker runs on its own background context with its own store
// handles; it never borrows a request-scoped resource across the async
// boundary.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/metrics"
	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/progress"
	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/scrape"
	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/sources"
	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/store"
)

// PauseGate blocks the worker at checkpoint boundaries while the job is
// paused. Implemented by the manager's per-job control handle.
type PauseGate interface {
	WaitIfPaused(ctx context.Context) error
}

// Config controls Worker behavior.
type Config struct {
	// SnapshotEvery batches progress writes: one snapshot per N processed
	// records (default 1).
	SnapshotEvery int
	// FetchTimeout bounds each adapter fetch call.
	FetchTimeout time.Duration
	// OpTimeout bounds each per-record persistence operation.
	OpTimeout time.Duration
	// ArchivePrefix, when a blob store is wired, prefixes archived raw
	// payload paths.
	ArchivePrefix      string
	ArchiveContentType string
	// LeadTopic and JobTopic name the event streams for the downstream
	// qualification consumer; empty disables publishing.
	LeadTopic string
	JobTopic  string
}

// Deps bundles the collaborators a Worker needs. Stores are handed to the
// worker at construction by the manager from its own pool, decoupled from
// any HTTP request lifetime.
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
	Publisher   scrape.Publisher
	Blobs       scrape.BlobStore
	Metrics     *metrics.Metrics
	Gate        PauseGate
	Logger      *zap.Logger
	// OnDone is invoked exactly once with the final status after all
	// writes complete; the manager uses it to clear its registry entry.
	OnDone func(jobID string, status scrape.JobStatus)
}

// Worker executes one job's per-source scrape loop.
type Worker struct {
	job  scrape.Job
	deps Deps
	cfg  Config

	counters     scrape.Progress
	sinceWrite   int
	attempted    int
	configErrors int
}

// New constructs a Worker for the job.
func New(job scrape.Job, deps Deps, cfg Config) *Worker {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.SnapshotEvery <= 0 {
		cfg.SnapshotEvery = 1
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 60 * time.Second
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 10 * time.Second
	}
	if cfg.ArchiveContentType == "" {
		cfg.ArchiveContentType = "application/json"
	}
	return &Worker{job: job, deps: deps, cfg: cfg}
}

// Run processes every source, then finalizes the job. It blocks until done
// and must be started on a context independent of the originating request.
func (w *Worker) Run(ctx context.Context) {
	logger := w.deps.Logger.With(zap.String("job_id", w.job.ID))

	if err := w.deps.Jobs.UpdateStatus(ctx, w.job.ID, scrape.JobStatusRunning, w.deps.Clock.Now()); err != nil {
		// Durable storage down before any work: the one fatal case.
		logger.Error("mark job running failed", zap.Error(err))
		w.finalize(ctx, scrape.JobStatusFailed, logger)
		return
	}
	// The running write is a silent no-op against a terminal job, so a cancel
	// racing the spawn is only visible by reading the status back. Nothing
	// may be scraped for a job that already finished.
	current, err := w.deps.Jobs.GetJob(ctx, w.job.ID)
	if err == nil && current.Status.IsTerminal() {
		logger.Info("job reached a terminal state before execution, skipping run",
			zap.String("status", string(current.Status)))
		if w.deps.Broadcaster != nil {
			w.deps.Broadcaster.CloseJob(w.job.ID)
		}
		if w.deps.OnDone != nil {
			w.deps.OnDone(w.job.ID, current.Status)
		}
		return
	}
	w.estimateTotal()
	w.writeSnapshot(ctx, scrape.JobStatusRunning, true)

	for _, source := range w.job.Sources {
		if w.checkpoint(ctx) != nil {
			break
		}
		w.runSource(ctx, source, logger.With(zap.String("source", source)))
	}

	status := w.deriveFinalStatus(ctx)
	w.finalize(ctx, status, logger)
}

// checkpoint is the cooperative cancellation and pause point, hit between
// records and between sources.
func (w *Worker) checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.deps.Gate != nil {
		if err := w.deps.Gate.WaitIfPaused(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) runSource(ctx context.Context, source string, logger *zap.Logger) {
	adapter, err := w.deps.Registry.Resolve(source)
	if err != nil {
		w.configErrors++
		w.recordError(ctx, source, err)
		return
	}

	iter, err := w.fetchWithRetry(ctx, adapter, source, logger)
	if err != nil {
		if ctx.Err() == nil {
			w.recordError(ctx, source, err)
			if w.deps.Metrics != nil {
				w.deps.Metrics.SourceFailures.WithLabelValues(source).Inc()
			}
			logger.Warn("source abandoned after retries", zap.Error(err))
		}
		return
	}
	w.attempted++

	for {
		if w.checkpoint(ctx) != nil {
			return
		}
		rec, err := iter.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				return
			}
			w.recordError(ctx, source, fmt.Errorf("record stream: %w", err))
			break
		}
		w.processRecord(ctx, source, rec, logger)
	}
	w.writeSnapshot(ctx, scrape.JobStatusRunning, true)
}

// fetchWithRetry opens the record stream, applying exponential backoff per
// the failure class. CAPTCHA blocks wait on the longer class.
func (w *Worker) fetchWithRetry(
	ctx context.Context,
	adapter scrape.SourceAdapter,
	source string,
	logger *zap.Logger,
) (scrape.RecordIterator, error) {
	req := scrape.SourceRequest{JobID: w.job.ID, Source: source, Config: w.job.Config}
	var lastErr error
	for attempt := 0; ; attempt++ {
		fetchCtx, cancel := context.WithTimeout(ctx, w.cfg.FetchTimeout)
		iter, err := adapter.Fetch(fetchCtx, req)
		cancel()
		if err == nil {
			return iter, nil
		}
		lastErr = err
		// An expired per-attempt deadline is retryable; only the run context
		// ending stops the loop.
		if ctx.Err() != nil {
			return nil, lastErr
		}
		if !w.deps.Retry.ShouldRetry(err, attempt) {
			return nil, lastErr
		}
		class := scrape.ClassifyFailure(err)
		if w.deps.Metrics != nil {
			w.deps.Metrics.SourceRetries.WithLabelValues(source, string(class)).Inc()
		}
		delay := w.deps.Retry.Backoff(err, attempt)
		logger.Debug("retrying source fetch",
			zap.Int("attempt", attempt+1),
			zap.String("class", string(class)),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, lastErr
		}
	}
}

func (w *Worker) processRecord(ctx context.Context, source string, rec scrape.RawRecord, logger *zap.Logger) {
	w.counters.ItemsFound++
	defer w.maybeWriteSnapshot(ctx)

	fingerprint, err := scrape.Fingerprint(w.deps.Hasher, rec)
	if err != nil {
		w.counters.ItemsFailed++
		w.recordError(ctx, source, fmt.Errorf("fingerprint record: %w", err))
		return
	}

	scope := scrape.Scope{JobID: w.job.ID, Global: w.job.Config.DedupGlobal}
	opCtx, cancel := context.WithTimeout(ctx, w.cfg.OpTimeout)
	defer cancel()

	fresh, err := w.deps.Dedup.IsNew(opCtx, scope, source, fingerprint)
	if err != nil {
		// Cache/lookup trouble is not authoritative; fall through to the
		// insert and let the uniqueness constraint decide.
		logger.Debug("dedup lookup failed, relying on insert", zap.Error(err))
		fresh = true
	}
	if !fresh {
		w.counters.ItemsSkippedDuplicate++
		w.countLead(source, "duplicate")
		return
	}

	lead := scrape.LeadRecord{
		Fingerprint: fingerprint,
		Source:      source,
		JobID:       w.job.ID,
		Name:        rec.Name,
		Location:    rec.Location,
		ListingURL:  rec.ListingURL,
		Payload:     rec.Fields,
		CapturedAt:  w.deps.Clock.Now(),
	}
	if err := w.deps.Leads.Insert(opCtx, lead); err != nil {
		if errors.Is(err, scrape.ErrDuplicateLead) {
			w.deps.Dedup.MarkSeen(opCtx, scope, source, fingerprint)
			w.counters.ItemsSkippedDuplicate++
			w.countLead(source, "duplicate")
			return
		}
		w.counters.ItemsFailed++
		w.countLead(source, "failed")
		w.recordError(ctx, source, fmt.Errorf("persist lead: %w", err))
		return
	}
	w.deps.Dedup.MarkSeen(opCtx, scope, source, fingerprint)
	w.counters.ItemsSaved++
	w.countLead(source, "saved")
	w.archiveRaw(opCtx, source, fingerprint, rec, logger)
	w.publishLead(opCtx, lead, logger)
}

func (w *Worker) archiveRaw(ctx context.Context, source, fingerprint string, rec scrape.RawRecord, logger *zap.Logger) {
	if w.deps.Blobs == nil {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		logger.Debug("encode raw record for archive failed", zap.Error(err))
		return
	}
	path := fmt.Sprintf("%s/%s/%s.json", w.cfg.ArchivePrefix, w.job.ID, fingerprint)
	if w.cfg.ArchivePrefix == "" {
		path = fmt.Sprintf("%s/%s.json", w.job.ID, fingerprint)
	}
	if _, err := w.deps.Blobs.PutObject(ctx, path, w.cfg.ArchiveContentType, data); err != nil {
		logger.Warn("archive raw record failed", zap.String("source", source), zap.Error(err))
	}
}

func (w *Worker) publishLead(ctx context.Context, lead scrape.LeadRecord, logger *zap.Logger) {
	if w.deps.Publisher == nil || w.cfg.LeadTopic == "" {
		return
	}
	payload := map[string]any{
		"job_id":      lead.JobID,
		"source":      lead.Source,
		"fingerprint": lead.Fingerprint,
		"name":        lead.Name,
		"location":    lead.Location,
		"captured_at": lead.CapturedAt.Format(time.RFC3339),
	}
	if _, err := w.deps.Publisher.Publish(ctx, w.cfg.LeadTopic, payload); err != nil {
		logger.Warn("publish lead event failed", zap.Error(err))
	}
}

// recordError appends to the job's capped error log. Recoverable failures
// are absorbed here; they never abort the job.
func (w *Worker) recordError(ctx context.Context, source string, cause error) {
	jobErr := scrape.JobError{
		At:      w.deps.Clock.Now(),
		Source:  source,
		Message: cause.Error(),
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.OpTimeout)
	defer cancel()
	if err := w.deps.Jobs.AppendError(writeCtx, w.job.ID, jobErr); err != nil {
		w.deps.Logger.Warn("append job error failed", zap.String("job_id", w.job.ID), zap.Error(err))
	}
}

func (w *Worker) maybeWriteSnapshot(ctx context.Context) {
	w.sinceWrite++
	if w.sinceWrite >= w.cfg.SnapshotEvery {
		w.writeSnapshot(ctx, scrape.JobStatusRunning, false)
	}
}

// writeSnapshot persists the counters durably, refreshes the progress cache,
// and fans the snapshot out. Cache failures are logged and ignored.
func (w *Worker) writeSnapshot(ctx context.Context, status scrape.JobStatus, force bool) {
	if !force && w.sinceWrite == 0 {
		return
	}
	w.sinceWrite = 0
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.OpTimeout)
	defer cancel()

	if err := w.deps.Jobs.UpdateProgress(writeCtx, w.job.ID, w.counters); err != nil {
		w.deps.Logger.Warn("update job progress failed", zap.String("job_id", w.job.ID), zap.Error(err))
	}
	snapshot := w.snapshot(status)
	if err := w.deps.Progress.Set(writeCtx, snapshot); err != nil {
		w.deps.Logger.Warn("progress store set failed", zap.String("job_id", w.job.ID), zap.Error(err))
	}
	if w.deps.Broadcaster != nil {
		w.deps.Broadcaster.Publish(w.job.ID, snapshot)
	}
}

func (w *Worker) snapshot(status scrape.JobStatus) scrape.ProgressSnapshot {
	return scrape.ProgressSnapshot{
		JobID:                 w.job.ID,
		Status:                status,
		TotalEstimated:        w.counters.TotalEstimated,
		ItemsFound:            w.counters.ItemsFound,
		ItemsSaved:            w.counters.ItemsSaved,
		ItemsSkippedDuplicate: w.counters.ItemsSkippedDuplicate,
		ItemsFailed:           w.counters.ItemsFailed,
		Timestamp:             w.deps.Clock.Now(),
	}
}

func (w *Worker) estimateTotal() {
	if w.job.Config.MaxRecords > 0 {
		w.counters.TotalEstimated = w.job.Config.MaxRecords * len(w.job.Sources)
	}
}

// deriveFinalStatus maps the run outcome to a terminal state. Partial source
// failure still completes; only a run where no source could even be
// attempted (all configuration errors) fails.
func (w *Worker) deriveFinalStatus(ctx context.Context) scrape.JobStatus {
	switch {
	case ctx.Err() != nil:
		return scrape.JobStatusCancelled
	case w.attempted == 0 && w.configErrors > 0:
		return scrape.JobStatusFailed
	default:
		return scrape.JobStatusCompleted
	}
}

// finalize performs the terminal writes on a context detached from the run
// context, so a cancelled job can still persist its final state.
func (w *Worker) finalize(ctx context.Context, status scrape.JobStatus, logger *zap.Logger) {
	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*w.cfg.OpTimeout)
	defer cancel()

	if err := w.deps.Jobs.UpdateProgress(finalCtx, w.job.ID, w.counters); err != nil {
		logger.Warn("final progress write failed", zap.Error(err))
	}
	if err := w.deps.Jobs.UpdateStatus(finalCtx, w.job.ID, status, w.deps.Clock.Now()); err != nil {
		logger.Error("final status write failed", zap.Error(err))
	}
	snapshot := w.snapshot(status)
	if err := w.deps.Progress.Set(finalCtx, snapshot); err != nil {
		logger.Warn("final progress store set failed", zap.Error(err))
	}
	if w.deps.Broadcaster != nil {
		w.deps.Broadcaster.Publish(w.job.ID, snapshot)
		w.deps.Broadcaster.CloseJob(w.job.ID)
	}
	w.publishJobEvent(finalCtx, status, logger)
	logger.Info("job finished",
		zap.String("status", string(status)),
		zap.Int("items_found", w.counters.ItemsFound),
		zap.Int("items_saved", w.counters.ItemsSaved),
		zap.Int("items_skipped_duplicate", w.counters.ItemsSkippedDuplicate),
		zap.Int("items_failed", w.counters.ItemsFailed),
	)
	if w.deps.OnDone != nil {
		w.deps.OnDone(w.job.ID, status)
	}
}

func (w *Worker) publishJobEvent(ctx context.Context, status scrape.JobStatus, logger *zap.Logger) {
	if w.deps.Publisher == nil || w.cfg.JobTopic == "" {
		return
	}
	payload := map[string]any{
		"job_id":                  w.job.ID,
		"status":                  string(status),
		"items_found":             w.counters.ItemsFound,
		"items_saved":             w.counters.ItemsSaved,
		"items_skipped_duplicate": w.counters.ItemsSkippedDuplicate,
		"items_failed":            w.counters.ItemsFailed,
		"timestamp":               w.deps.Clock.Now().Format(time.RFC3339),
	}
	if _, err := w.deps.Publisher.Publish(ctx, w.cfg.JobTopic, payload); err != nil {
		logger.Warn("publish job event failed", zap.Error(err))
	}
}

func (w *Worker) countLead(source, outcome string) {
	if w.deps.Metrics != nil {
		w.deps.Metrics.LeadsProcessed.WithLabelValues(source, outcome).Inc()
	}
}
