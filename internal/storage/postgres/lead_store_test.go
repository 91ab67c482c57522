package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/scrape"
)

func TestLeadStoreInsertReportsDuplicate(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewLeadStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	lead := scrape.LeadRecord{
		Fingerprint: "fp-1",
		Source:      "yellowpages",
		JobID:       "job-1",
		Name:        "Acme Plumbing",
		Location:    "Springfield IL",
		Payload:     map[string]string{"phone": "555-0100"},
		CapturedAt:  now,
	}
	args := []any{
		lead.Fingerprint, lead.Source, lead.JobID, lead.Name,
		lead.Location, lead.ListingURL, []byte(`{"phone":"555-0100"}`), now,
	}

	mock.ExpectExec("INSERT INTO leads").
		WithArgs(args...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.Insert(context.Background(), lead))

	// ON CONFLICT DO NOTHING affects zero rows on a duplicate.
	mock.ExpectExec("INSERT INTO leads").
		WithArgs(args...).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	require.ErrorIs(t, store.Insert(context.Background(), lead), scrape.ErrDuplicateLead)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLeadStoreExists(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewLeadStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("yellowpages", "fp-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := store.Exists(context.Background(), "yellowpages", "fp-1")
	require.NoError(t, err)
	require.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLeadStoreListByJob(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewLeadStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	url := "https://directory.example/biz/acme"

	mock.ExpectQuery("SELECT fingerprint, source, job_id").
		WithArgs("job-1", 10, 0).
		WillReturnRows(pgxmock.NewRows([]string{
			"fingerprint", "source", "job_id", "name", "location",
			"listing_url", "payload", "captured_at",
		}).AddRow(
			"fp-1", "yellowpages", "job-1", "Acme Plumbing", "Springfield IL",
			&url, []byte(`{"phone":"555-0100"}`), now,
		))

	leads, err := store.ListByJob(context.Background(), "job-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, leads, 1)
	require.Equal(t, "fp-1", leads[0].Fingerprint)
	require.Equal(t, url, leads[0].ListingURL)
	require.Equal(t, "555-0100", leads[0].Payload["phone"])
	require.NoError(t, mock.ExpectationsWereMet())
}
