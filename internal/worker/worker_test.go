package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/dedup"
	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/hash/sha256"
	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/progress"
	memorypublisher "github.com/dhruvfliptech/LeadGenAgent-sub003/internal/publisher/memory"
	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/scrape"
	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/sources"
	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/sources/static"
	memorystorage "github.com/dhruvfliptech/LeadGenAgent-sub003/internal/storage/memory"
)

type harness struct {
	jobs      *memorystorage.JobStore
	leads     *memorystorage.LeadStore
	progress  *memorystorage.ProgressStore
	blobs     *memorystorage.BlobStore
	publisher *memorypublisher.Publisher
	bcast     *progress.Broadcaster

	mu          sync.Mutex
	finalStatus scrape.JobStatus
	doneCount   int
}

func newHarness() *harness {
	return &harness{
		jobs:      memorystorage.NewJobStore(),
		leads:     memorystorage.NewLeadStore(),
		progress:  memorystorage.NewProgressStore(),
		blobs:     memorystorage.NewBlobStore(),
		publisher: memorypublisher.New(),
		bcast:     progress.NewBroadcaster(progress.Config{SubscriberBuffer: 64}),
	}
}

func (h *harness) onDone(_ string, status scrape.JobStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finalStatus = status
	h.doneCount++
}

func (h *harness) done() (scrape.JobStatus, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.finalStatus, h.doneCount
}

func (h *harness) deps(registry *sources.Registry) Deps {
	return Deps{
		Jobs:        h.jobs,
		Leads:       h.leads,
		Progress:    h.progress,
		Broadcaster: h.bcast,
		Dedup:       dedup.New(h.leads),
		Registry:    registry,
		Retry: scrape.NewExponentialRetryPolicy(scrape.RetryConfig{
			MaxAttempts:      2,
			BaseDelay:        time.Millisecond,
			MaxDelay:         2 * time.Millisecond,
			CaptchaBaseDelay: time.Millisecond,
			CaptchaMaxDelay:  2 * time.Millisecond,
		}),
		Hasher:    sha256.New(),
		Clock:     fixedClock{at: time.Unix(1700000000, 0).UTC()},
		Publisher: h.publisher,
		Blobs:     h.blobs,
		OnDone:    h.onDone,
	}
}

func (h *harness) createJob(t *testing.T, job scrape.Job) scrape.Job {
	t.Helper()
	if job.Status == "" {
		job.Status = scrape.JobStatusPending
	}
	require.NoError(t, h.jobs.CreateJob(context.Background(), job))
	return job
}

type fixedClock struct {
	at time.Time
}

func (c fixedClock) Now() time.Time {
	return c.at
}

func record(name string) scrape.RawRecord {
	return scrape.RawRecord{
		Name:     name,
		Location: "Springfield IL",
		Fields:   map[string]string{"phone": "555-0100"},
	}
}

// TestWorkerSavesAndSkipsDuplicates runs the canonical five-record scrape
// with one duplicate and checks every counter and side effect.
func TestWorkerSavesAndSkipsDuplicates(t *testing.T) {
	t.Parallel()

	h := newHarness()
	records := []scrape.RawRecord{
		record("Acme Plumbing"),
		record("Beta Roofing"),
		record("ACME   Plumbing!"), // duplicate of the first after normalization
		record("Gamma Electric"),
		record("Delta HVAC"),
	}
	registry := sources.NewRegistry(static.New("yellowpages", records))
	job := h.createJob(t, scrape.Job{ID: "job-1", Sources: []string{"yellowpages"}})

	w := New(job, h.deps(registry), Config{LeadTopic: "leads", JobTopic: "jobs"})
	w.Run(context.Background())

	got, err := h.jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusCompleted, got.Status)
	require.Equal(t, 5, got.Progress.ItemsFound)
	require.Equal(t, 4, got.Progress.ItemsSaved)
	require.Equal(t, 1, got.Progress.ItemsSkippedDuplicate)
	require.Zero(t, got.Progress.ItemsFailed)
	require.Equal(t, got.Progress.ItemsFound,
		got.Progress.ItemsSaved+got.Progress.ItemsSkippedDuplicate+got.Progress.ItemsFailed)

	leads, err := h.leads.ListByJob(context.Background(), "job-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, leads, 4)

	// One event per saved lead plus the terminal job event.
	require.Len(t, h.publisher.Messages(), 5)

	status, doneCount := h.done()
	require.Equal(t, scrape.JobStatusCompleted, status)
	require.Equal(t, 1, doneCount)
}

// TestWorkerPartialSourceFailureStillCompletes exercises one failing and one
// healthy source; per-source failure is recorded but not fatal.
func TestWorkerPartialSourceFailureStillCompletes(t *testing.T) {
	t.Parallel()

	h := newHarness()
	registry := sources.NewRegistry(
		static.NewFailing("yelp", scrape.NewSourceError("yelp", scrape.FailTransient, errors.New("connection refused"))),
		static.New("yellowpages", []scrape.RawRecord{record("Acme Plumbing"), record("Beta Roofing")}),
	)
	job := h.createJob(t, scrape.Job{ID: "job-1", Sources: []string{"yelp", "yellowpages"}})

	w := New(job, h.deps(registry), Config{})
	w.Run(context.Background())

	got, err := h.jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusCompleted, got.Status)
	require.Equal(t, 2, got.Progress.ItemsSaved)
	require.NotEmpty(t, got.Errors)
	require.Equal(t, "yelp", got.Errors[0].Source)
}

// TestWorkerFailsWhenNoSourceAttempted covers the only fatal outcome short of
// storage loss: every requested source is a configuration error.
func TestWorkerFailsWhenNoSourceAttempted(t *testing.T) {
	t.Parallel()

	h := newHarness()
	registry := sources.NewRegistry() // nothing registered
	job := h.createJob(t, scrape.Job{ID: "job-1", Sources: []string{"unknown"}})

	w := New(job, h.deps(registry), Config{})
	w.Run(context.Background())

	got, err := h.jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusFailed, got.Status)
	require.NotEmpty(t, got.Errors)
}

func TestWorkerRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	h := newHarness()
	flaky := &flakyAdapter{
		name:     "yelp",
		failures: 1,
		err:      scrape.NewSourceError("yelp", scrape.FailCaptcha, errors.New("blocked")),
		records:  []scrape.RawRecord{record("Acme Plumbing")},
	}
	registry := sources.NewRegistry(flaky)
	job := h.createJob(t, scrape.Job{ID: "job-1", Sources: []string{"yelp"}})

	w := New(job, h.deps(registry), Config{})
	w.Run(context.Background())

	got, err := h.jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusCompleted, got.Status)
	require.Equal(t, 1, got.Progress.ItemsSaved)
	require.Equal(t, 2, flaky.calls)
}

// TestWorkerSkipsJobAlreadyTerminal covers a cancel racing the spawn: the
// stored job is already terminal when the worker comes up, so it must not
// scrape or persist anything for it.
func TestWorkerSkipsJobAlreadyTerminal(t *testing.T) {
	t.Parallel()

	h := newHarness()
	registry := sources.NewRegistry(static.New("yellowpages",
		[]scrape.RawRecord{record("Acme Plumbing"), record("Beta Roofing")}))
	job := h.createJob(t, scrape.Job{
		ID:      "job-1",
		Status:  scrape.JobStatusCancelled,
		Sources: []string{"yellowpages"},
	})

	w := New(job, h.deps(registry), Config{LeadTopic: "leads"})
	w.Run(context.Background())

	leads, err := h.leads.ListByJob(context.Background(), "job-1", 0, 0)
	require.NoError(t, err)
	require.Empty(t, leads)
	require.Empty(t, h.publisher.Messages())

	got, err := h.jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusCancelled, got.Status)
	require.Zero(t, got.Progress.ItemsFound)

	status, doneCount := h.done()
	require.Equal(t, scrape.JobStatusCancelled, status)
	require.Equal(t, 1, doneCount)
}

// TestWorkerRetriesAfterAttemptTimeout pins the timeout semantics: a fetch
// that runs out its per-attempt deadline is retried like any other transient
// failure instead of abandoning the source.
func TestWorkerRetriesAfterAttemptTimeout(t *testing.T) {
	t.Parallel()

	h := newHarness()
	adapter := &timeoutOnceAdapter{
		name:    "yellowpages",
		records: []scrape.RawRecord{record("Acme Plumbing")},
	}
	registry := sources.NewRegistry(adapter)
	job := h.createJob(t, scrape.Job{ID: "job-1", Sources: []string{"yellowpages"}})

	w := New(job, h.deps(registry), Config{FetchTimeout: 5 * time.Millisecond})
	w.Run(context.Background())

	got, err := h.jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusCompleted, got.Status)
	require.Equal(t, 1, got.Progress.ItemsSaved)
	require.Equal(t, 2, adapter.calls)
}

// TestWorkerCancelledMidStream checks the cooperative stop: the worker halts
// at a record boundary and still persists everything processed so far.
func TestWorkerCancelledMidStream(t *testing.T) {
	t.Parallel()

	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	adapter := &cancelAfterAdapter{name: "yellowpages", after: 2, cancel: cancel}
	registry := sources.NewRegistry(adapter)
	job := h.createJob(t, scrape.Job{ID: "job-1", Sources: []string{"yellowpages"}})

	w := New(job, h.deps(registry), Config{})
	w.Run(ctx)

	got, err := h.jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusCancelled, got.Status)
	require.Equal(t, 2, got.Progress.ItemsSaved)
	require.NotNil(t, got.Completed)
}

// TestWorkerSnapshotStreamIsMonotonic subscribes before the run and checks
// every delivered counter never regresses.
func TestWorkerSnapshotStreamIsMonotonic(t *testing.T) {
	t.Parallel()

	h := newHarness()
	records := make([]scrape.RawRecord, 0, 10)
	for i := 0; i < 10; i++ {
		records = append(records, record(fmt.Sprintf("Business %d", i)))
	}
	registry := sources.NewRegistry(static.New("yellowpages", records))
	job := h.createJob(t, scrape.Job{ID: "job-1", Sources: []string{"yellowpages"}})

	sub := h.bcast.Subscribe("job-1")
	defer sub.Close()

	w := New(job, h.deps(registry), Config{})
	w.Run(context.Background())

	prev := -1
	sawTerminal := false
	for snap := range sub.Updates() {
		require.GreaterOrEqual(t, snap.ItemsFound, prev)
		prev = snap.ItemsFound
		if snap.Status.IsTerminal() {
			sawTerminal = true
		}
	}
	require.True(t, sawTerminal)
	require.Equal(t, 10, prev)
}

type flakyAdapter struct {
	name     string
	failures int
	calls    int
	err      error
	records  []scrape.RawRecord
}

func (a *flakyAdapter) Name() string {
	return a.name
}

func (a *flakyAdapter) Fetch(_ context.Context, _ scrape.SourceRequest) (scrape.RecordIterator, error) {
	a.calls++
	if a.calls <= a.failures {
		return nil, a.err
	}
	return &sliceIterator{records: a.records}, nil
}

// timeoutOnceAdapter blocks until the fetch context expires on its first call
// and serves its records on the second.
type timeoutOnceAdapter struct {
	name    string
	calls   int
	records []scrape.RawRecord
}

func (a *timeoutOnceAdapter) Name() string {
	return a.name
}

func (a *timeoutOnceAdapter) Fetch(ctx context.Context, _ scrape.SourceRequest) (scrape.RecordIterator, error) {
	a.calls++
	if a.calls == 1 {
		<-ctx.Done()
		return nil, scrape.NewSourceError(a.name, scrape.FailTransient,
			fmt.Errorf("fetch listing page: %w", ctx.Err()))
	}
	return &sliceIterator{records: a.records}, nil
}

// cancelAfterAdapter yields records and cancels the run context after a fixed
// number of them, simulating a cancel request arriving mid-scrape.
type cancelAfterAdapter struct {
	name   string
	after  int
	cancel context.CancelFunc
}

func (a *cancelAfterAdapter) Name() string {
	return a.name
}

func (a *cancelAfterAdapter) Fetch(_ context.Context, _ scrape.SourceRequest) (scrape.RecordIterator, error) {
	return &cancelAfterIterator{adapter: a}, nil
}

type cancelAfterIterator struct {
	adapter *cancelAfterAdapter
	pos     int
}

func (it *cancelAfterIterator) Next(ctx context.Context) (scrape.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return scrape.RawRecord{}, err
	}
	if it.pos >= it.adapter.after {
		it.adapter.cancel()
		return scrape.RawRecord{}, io.EOF
	}
	it.pos++
	return record(fmt.Sprintf("Business %d", it.pos)), nil
}

type sliceIterator struct {
	records []scrape.RawRecord
	pos     int
}

func (it *sliceIterator) Next(ctx context.Context) (scrape.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return scrape.RawRecord{}, err
	}
	if it.pos >= len(it.records) {
		return scrape.RawRecord{}, io.EOF
	}
	rec := it.records[it.pos]
	it.pos++
	return rec, nil
}
