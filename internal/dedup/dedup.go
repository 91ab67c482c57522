// Package dedup tracks which lead fingerprints have already been seen.
package dedup

import (
	"context"
	"fmt"
	"sync"

	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/scrape"
)

var _ scrape.Deduplicator = (*Deduplicator)(nil)

// Deduplicator maintains per-job fingerprint sets in memory and, for the
// global scope, consults the lead store. The store's uniqueness constraint
// remains the authority; the in-memory set only avoids failed-insert round
// trips.
type Deduplicator struct {
	mu     sync.Mutex
	byJob  map[string]map[string]struct{}
	global map[string]struct{}
	leads  scrape.LeadStore
}

// New constructs a Deduplicator backed by the lead store for global checks.
func New(leads scrape.LeadStore) *Deduplicator {
	return &Deduplicator{
		byJob:  make(map[string]map[string]struct{}),
		global: make(map[string]struct{}),
		leads:  leads,
	}
}

// IsNew reports whether the fingerprint has not been seen for the scope. The
// job scope is always checked; the global scope adds a lead-store lookup.
func (d *Deduplicator) IsNew(ctx context.Context, scope scrape.Scope, source, fingerprint string) (bool, error) {
	key := globalKey(source, fingerprint)
	d.mu.Lock()
	if set, ok := d.byJob[scope.JobID]; ok {
		if _, seen := set[key]; seen {
			d.mu.Unlock()
			return false, nil
		}
	}
	if scope.Global {
		if _, seen := d.global[key]; seen {
			d.mu.Unlock()
			return false, nil
		}
	}
	d.mu.Unlock()

	if !scope.Global || d.leads == nil {
		return true, nil
	}
	exists, err := d.leads.Exists(ctx, source, fingerprint)
	if err != nil {
		return false, fmt.Errorf("lead existence check: %w", err)
	}
	if exists {
		d.mu.Lock()
		d.global[key] = struct{}{}
		d.mu.Unlock()
	}
	return !exists, nil
}

// MarkSeen records the fingerprint for the job scope and, when requested,
// the global scope.
func (d *Deduplicator) MarkSeen(_ context.Context, scope scrape.Scope, source, fingerprint string) {
	key := globalKey(source, fingerprint)
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.byJob[scope.JobID]
	if !ok {
		set = make(map[string]struct{})
		d.byJob[scope.JobID] = set
	}
	set[key] = struct{}{}
	if scope.Global {
		d.global[key] = struct{}{}
	}
}

// ForgetJob drops the per-job set once a run reaches a terminal state.
func (d *Deduplicator) ForgetJob(jobID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.byJob, jobID)
}

func globalKey(source, fingerprint string) string {
	return source + ":" + fingerprint
}
