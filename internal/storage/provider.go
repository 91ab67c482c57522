// Package storage selects concrete store backends at startup.
package storage

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/storage/memory"
	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/storage/redis"
	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/store"
)

// RedisConfig carries the bits needed to probe the cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// SelectProgressStore attempts the Redis-backed progress store and falls back
// to the in-memory implementation when the cache is unreachable. The cache is
// an accelerator, never a dependency: an unreachable Redis must not prevent
// startup.
func SelectProgressStore(ctx context.Context, cfg RedisConfig, logger *zap.Logger) store.ProgressStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Addr == "" {
		logger.Info("no redis address configured, using in-memory progress store")
		return memory.NewProgressStore()
	}
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	progressStore, err := redis.New(probeCtx, client, redis.Config{TTL: cfg.TTL})
	if err != nil {
		logger.Warn("redis unreachable, falling back to in-memory progress store",
			zap.String("addr", cfg.Addr),
			zap.Error(err),
		)
		if closeErr := client.Close(); closeErr != nil {
			logger.Debug("close redis client", zap.Error(closeErr))
		}
		return memory.NewProgressStore()
	}
	logger.Info("using redis progress store", zap.String("addr", cfg.Addr))
	return progressStore
}
