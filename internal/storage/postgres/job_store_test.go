package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/scrape"
)

func TestJobStoreCreateJobInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStoreWithPool(mock, 50)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	job := scrape.Job{
		ID:             "0191aaaa-0000-7000-8000-000000000001",
		Status:         scrape.JobStatusPending,
		Sources:        []string{"yellowpages"},
		Config:         scrape.JobConfig{Locations: []string{"Springfield IL"}},
		IdempotencyKey: "key-1",
		Submitted:      now,
	}

	mock.ExpectExec("INSERT INTO scrape_jobs").
		WithArgs(
			job.ID,
			"pending",
			job.Sources,
			[]byte(`{"locations":["Springfield IL"]}`),
			&job.IdempotencyKey,
			[]byte(`{"total_estimated":0,"items_found":0,"items_saved":0,"items_skipped_duplicate":0,"items_failed":0}`),
			now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreUpdateStatusGuardsTerminalRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStoreWithPool(mock, 50)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE scrape_jobs").
		WithArgs("job-1", "running", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.UpdateStatus(context.Background(), "job-1", scrape.JobStatusRunning, now))

	// Zero rows plus an existing row means the job is terminal: a no-op.
	mock.ExpectExec("UPDATE scrape_jobs").
		WithArgs("job-1", "running", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT id, status, sources").
		WithArgs("job-1").
		WillReturnRows(jobRows("job-1", "completed", now))
	require.NoError(t, store.UpdateStatus(context.Background(), "job-1", scrape.JobStatusRunning, now))

	// Zero rows and no row at all means the job does not exist.
	mock.ExpectExec("UPDATE scrape_jobs").
		WithArgs("missing", "running", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT id, status, sources").
		WithArgs("missing").
		WillReturnRows(emptyJobRows())
	err = store.UpdateStatus(context.Background(), "missing", scrape.JobStatusRunning, now)
	require.ErrorIs(t, err, scrape.ErrJobNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreGetJobNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStoreWithPool(mock, 50)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT id, status, sources").
		WithArgs("missing").
		WillReturnRows(emptyJobRows())

	_, err = store.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, scrape.ErrJobNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreAppendErrorTrimsToCap(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStoreWithPool(mock, 25)
	require.NoError(t, err)

	at := time.Unix(1700000000, 0).UTC()
	jobErr := scrape.JobError{At: at, Source: "yellowpages", Message: "timeout"}
	entry := []byte(`{"timestamp":"2023-11-14T22:13:20Z","source":"yellowpages","message":"timeout"}`)

	mock.ExpectExec("UPDATE scrape_jobs").
		WithArgs("job-1", entry, 25).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.AppendError(context.Background(), "job-1", jobErr))
	require.NoError(t, mock.ExpectationsWereMet())
}

func jobRows(id, status string, submitted time.Time) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "status", "sources", "config", "idempotency_key",
		"progress", "errors", "submitted_at", "started_at", "completed_at",
	}).AddRow(
		id, status, []string{"yellowpages"}, []byte(`{}`), (*string)(nil),
		[]byte(`{}`), []byte(`[]`), submitted, (*time.Time)(nil), (*time.Time)(nil),
	)
}

func emptyJobRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "status", "sources", "config", "idempotency_key",
		"progress", "errors", "submitted_at", "started_at", "completed_at",
	})
}
