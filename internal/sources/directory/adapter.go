// Package directory implements a source adapter for HTML business
// directories using the Colly collector. Selectors are configuration, so one
// adapter instance serves any directory with a list/detail markup shape.
package directory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/scrape"
)

// Config controls collector behavior and result extraction.
type Config struct {
	Name string
	// SearchURL is a format string receiving one location per fetch pass,
	// e.g. "https://directory.example/search?where=%s".
	SearchURL string
	// ItemSelector matches one listing; the remaining selectors are
	// evaluated relative to it.
	ItemSelector     string
	NameSelector     string
	LocationSelector string
	URLSelector      string
	URLAttribute     string
	UserAgent        string
	Timeout          time.Duration
	MaxRecords       int
}

// Adapter fetches listing pages and yields one RawRecord per matched item.
type Adapter struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds an Adapter; SearchURL and ItemSelector are required.
func New(cfg Config) (*Adapter, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: adapter name is required", scrape.ErrInvalidConfiguration)
	}
	if cfg.SearchURL == "" || cfg.ItemSelector == "" {
		return nil, fmt.Errorf("%w: search_url and item_selector are required", scrape.ErrInvalidConfiguration)
	}
	if cfg.URLAttribute == "" {
		cfg.URLAttribute = "href"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.SetRequestTimeout(cfg.Timeout)
	return &Adapter{cfg: cfg, baseCollector: c}, nil
}

// Name implements scrape.SourceAdapter.
func (a *Adapter) Name() string {
	return a.cfg.Name
}

// Fetch scrapes the search page for each requested location and returns an
// iterator over the collected records. A blocked or failed page aborts the
// pass with a classified *scrape.SourceError so the worker can pick the
// right backoff class.
func (a *Adapter) Fetch(ctx context.Context, req scrape.SourceRequest) (scrape.RecordIterator, error) {
	locations := req.Config.Locations
	if len(locations) == 0 {
		locations = []string{""}
	}
	maxRecords := a.cfg.MaxRecords
	if req.Config.MaxRecords > 0 {
		maxRecords = req.Config.MaxRecords
	}

	var (
		records  []scrape.RawRecord
		fetchErr error
	)
	collector := a.baseCollector.Clone()
	collector.OnHTML(a.cfg.ItemSelector, func(e *colly.HTMLElement) {
		if maxRecords > 0 && len(records) >= maxRecords {
			return
		}
		records = append(records, scrape.RawRecord{
			Name:       e.ChildText(a.cfg.NameSelector),
			Location:   e.ChildText(a.cfg.LocationSelector),
			ListingURL: e.Request.AbsoluteURL(e.ChildAttr(a.cfg.URLSelector, a.cfg.URLAttribute)),
		})
	})
	collector.OnError(func(resp *colly.Response, err error) {
		fetchErr = a.classify(resp, err)
	})

	for _, location := range locations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := collector.Visit(fmt.Sprintf(a.cfg.SearchURL, location)); err != nil {
			fetchErr = a.classify(nil, err)
		}
		collector.Wait()
		if fetchErr != nil {
			return nil, fetchErr
		}
	}
	return &sliceIterator{records: records}, nil
}

func (a *Adapter) classify(resp *colly.Response, err error) error {
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusForbidden, http.StatusTooManyRequests:
			return scrape.NewSourceError(a.cfg.Name, scrape.FailCaptcha,
				fmt.Errorf("blocked with status %d: %w", resp.StatusCode, err))
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) || resp == nil {
		return scrape.NewSourceError(a.cfg.Name, scrape.FailTransient, err)
	}
	return scrape.NewSourceError(a.cfg.Name, scrape.FailTransient, err)
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
