package directory

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/scrape"
)

const listingPage = `<html><body>
<div class="result">
  <h2 class="name">Acme Plumbing</h2>
  <span class="loc">Springfield IL</span>
  <a class="link" href="/biz/acme">details</a>
</div>
<div class="result">
  <h2 class="name">Beta Roofing</h2>
  <span class="loc">Springfield IL</span>
  <a class="link" href="/biz/beta">details</a>
</div>
</body></html>`

func testAdapter(t *testing.T, searchURL string, maxRecords int) *Adapter {
	t.Helper()
	adapter, err := New(Config{
		Name:             "testdir",
		SearchURL:        searchURL,
		ItemSelector:     "div.result",
		NameSelector:     "h2.name",
		LocationSelector: "span.loc",
		URLSelector:      "a.link",
		MaxRecords:       maxRecords,
	})
	require.NoError(t, err)
	return adapter
}

func drain(t *testing.T, iter scrape.RecordIterator) []scrape.RawRecord {
	t.Helper()
	var out []scrape.RawRecord
	for {
		rec, err := iter.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
}

func TestAdapterExtractsRecords(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Springfield+IL", r.URL.RawQuery)
		_, _ = w.Write([]byte(listingPage))
	}))
	defer ts.Close()

	adapter := testAdapter(t, ts.URL+"?%s", 0)
	iter, err := adapter.Fetch(context.Background(), scrape.SourceRequest{
		JobID:  "job-1",
		Source: "testdir",
		Config: scrape.JobConfig{Locations: []string{"Springfield+IL"}},
	})
	require.NoError(t, err)

	records := drain(t, iter)
	require.Len(t, records, 2)
	require.Equal(t, "Acme Plumbing", records[0].Name)
	require.Equal(t, "Springfield IL", records[0].Location)
	require.Equal(t, ts.URL+"/biz/acme", records[0].ListingURL)
}

func TestAdapterHonorsMaxRecords(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(listingPage))
	}))
	defer ts.Close()

	adapter := testAdapter(t, ts.URL+"?%s", 0)
	iter, err := adapter.Fetch(context.Background(), scrape.SourceRequest{
		Config: scrape.JobConfig{MaxRecords: 1},
	})
	require.NoError(t, err)
	require.Len(t, drain(t, iter), 1)
}

// TestAdapterClassifiesBlocking maps 403/429 to the CAPTCHA failure class so
// the retry policy applies its longer backoff.
func TestAdapterClassifiesBlocking(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	adapter := testAdapter(t, ts.URL+"?%s", 0)
	_, err := adapter.Fetch(context.Background(), scrape.SourceRequest{})
	require.Error(t, err)
	require.Equal(t, scrape.FailCaptcha, scrape.ClassifyFailure(err))
}

func TestAdapterClassifiesServerErrorTransient(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	adapter := testAdapter(t, ts.URL+"?%s", 0)
	_, err := adapter.Fetch(context.Background(), scrape.SourceRequest{})
	require.Error(t, err)
	require.Equal(t, scrape.FailTransient, scrape.ClassifyFailure(err))
}

func TestNewRejectsIncompleteConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Name: "x"})
	require.ErrorIs(t, err, scrape.ErrInvalidConfiguration)

	_, err = New(Config{SearchURL: "https://example.com?%s", ItemSelector: "div"})
	require.ErrorIs(t, err, scrape.ErrInvalidConfiguration)
}
