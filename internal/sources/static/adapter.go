// Package static provides a fixture-backed source adapter used in
// development and tests.
package static

import (
	"context"
	"io"

	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/scrape"
)

// Adapter yields a fixed record set per fetch.
type Adapter struct {
	name    string
	records []scrape.RawRecord
	err     error
}

// New builds an Adapter serving the provided records.
func New(name string, records []scrape.RawRecord) *Adapter {
	return &Adapter{name: name, records: records}
}

// NewFailing builds an Adapter whose Fetch always fails with err.
func NewFailing(name string, err error) *Adapter {
	return &Adapter{name: name, err: err}
}

// Name implements scrape.SourceAdapter.
func (a *Adapter) Name() string {
	return a.name
}

// Fetch returns an iterator over the fixed record set.
func (a *Adapter) Fetch(_ context.Context, _ scrape.SourceRequest) (scrape.RecordIterator, error) {
	if a.err != nil {
		return nil, a.err
	}
	return &iterator{records: a.records}, nil
}

type iterator struct {
	records []scrape.RawRecord
	pos     int
}

func (it *iterator) Next(ctx context.Context) (scrape.RawRecord, error) {
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
