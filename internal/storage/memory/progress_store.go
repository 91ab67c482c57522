package memory

import (
	"context"
	"sync"

	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/scrape"
	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/store"
)

var _ store.ProgressStore = (*ProgressStore)(nil)

// ProgressStore is the process-local fallback used when the cache service is
// unreachable. Snapshots are lost on restart, which is acceptable: they are
// reconstructable from the durable job record.
type ProgressStore struct {
	mu        sync.RWMutex
	snapshots map[string]scrape.ProgressSnapshot
}

// NewProgressStore constructs an empty ProgressStore.
func NewProgressStore() *ProgressStore {
	return &ProgressStore{snapshots: make(map[string]scrape.ProgressSnapshot)}
}

// Get returns the latest snapshot or store.ErrNotFound.
func (s *ProgressStore) Get(_ context.Context, jobID string) (scrape.ProgressSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot, ok := s.snapshots[jobID]
	if !ok {
		return scrape.ProgressSnapshot{}, store.ErrNotFound
	}
	return snapshot, nil
}

// Set stores the snapshot keyed by job id.
func (s *ProgressStore) Set(_ context.Context, snapshot scrape.ProgressSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshot.JobID] = snapshot
	return nil
}

// Delete removes the snapshot for the job.
func (s *ProgressStore) Delete(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, jobID)
	return nil
}
