package memory

import (
	"context"
	"sync"

	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/scrape"
)

type leadKey struct {
	source      string
	fingerprint string
}

// LeadStore keeps lead records in memory, enforcing the same
// (source, fingerprint) uniqueness the Postgres schema carries.
type LeadStore struct {
	mu    sync.RWMutex
	leads map[leadKey]scrape.LeadRecord
	byJob map[string][]leadKey
}

// NewLeadStore constructs an empty LeadStore.
func NewLeadStore() *LeadStore {
	return &LeadStore{
		leads: make(map[leadKey]scrape.LeadRecord),
		byJob: make(map[string][]leadKey),
	}
}

// Insert persists a lead, returning scrape.ErrDuplicateLead when the
// fingerprint already exists for the source.
func (s *LeadStore) Insert(_ context.Context, lead scrape.LeadRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := leadKey{source: lead.Source, fingerprint: lead.Fingerprint}
	if _, exists := s.leads[key]; exists {
		return scrape.ErrDuplicateLead
	}
	s.leads[key] = lead
	s.byJob[lead.JobID] = append(s.byJob[lead.JobID], key)
	return nil
}

// Exists reports whether a lead with the fingerprint was persisted for the
// source by any job.
func (s *LeadStore) Exists(_ context.Context, source, fingerprint string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.leads[leadKey{source: source, fingerprint: fingerprint}]
	return ok, nil
}

// ListByJob returns leads captured by one job in insertion order.
func (s *LeadStore) ListByJob(_ context.Context, jobID string, limit, offset int) ([]scrape.LeadRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.byJob[jobID]
	if offset >= len(keys) {
		return nil, nil
	}
	keys = keys[offset:]
	if limit > 0 && limit < len(keys) {
		keys = keys[:limit]
	}
	out := make([]scrape.LeadRecord, 0, len(keys))
	for _, key := range keys {
		out = append(out, s.leads[key])
	}
	return out, nil
}
