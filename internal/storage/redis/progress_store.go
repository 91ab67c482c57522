// Package redis provides the cache-backed ProgressStore implementation.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/scrape"
	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/store"
)

var _ store.ProgressStore = (*ProgressStore)(nil)

const snapshotKeyPrefix = "leadgen:progress:"

// Config controls key lifetime.
type Config struct {
	TTL time.Duration
}

// ProgressStore keeps the latest snapshot per job in Redis so status reads
// can be served without touching the durable job record.
type ProgressStore struct {
	client *goredis.Client
	ttl    time.Duration
}

// New wraps an existing Redis client. Ping probes connectivity so callers can
// fall back to the in-memory store instead of failing at startup.
func New(ctx context.Context, client *goredis.Client, cfg Config) (*ProgressStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ProgressStore{client: client, ttl: ttl}, nil
}

// Get loads the latest snapshot or store.ErrNotFound.
func (s *ProgressStore) Get(ctx context.Context, jobID string) (scrape.ProgressSnapshot, error) {
	raw, err := s.client.Get(ctx, snapshotKeyPrefix+jobID).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return scrape.ProgressSnapshot{}, store.ErrNotFound
		}
		return scrape.ProgressSnapshot{}, fmt.Errorf("redis get snapshot: %w", err)
	}
	var snapshot scrape.ProgressSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return scrape.ProgressSnapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snapshot, nil
}

// Set stores the snapshot under the job key with the configured TTL.
func (s *ProgressStore) Set(ctx context.Context, snapshot scrape.ProgressSnapshot) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.client.Set(ctx, snapshotKeyPrefix+snapshot.JobID, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set snapshot: %w", err)
	}
	return nil
}

// Delete removes the snapshot; missing keys are not an error.
func (s *ProgressStore) Delete(ctx context.Context, jobID string) error {
	if err := s.client.Del(ctx, snapshotKeyPrefix+jobID).Err(); err != nil {
		return fmt.Errorf("redis delete snapshot: %w", err)
	}
	return nil
}
