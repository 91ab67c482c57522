// Package main wires together the lead scrape service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/api"
	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/clock/system"
	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/config"
	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/dedup"
	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/hash/sha256"
	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/id/uuid"
	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/logging"
	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/manager"
	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/metrics"
	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/progress"
	pubsubpublisher "github.com/dhruvfliptech/LeadGenAgent-sub003/internal/publisher/pubsub"
	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/scrape"
	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/sources"
	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/sources/directory"
	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/storage"
	gcsstorage "github.com/dhruvfliptech/LeadGenAgent-sub003/internal/storage/gcs"
	memorystorage "github.com/dhruvfliptech/LeadGenAgent-sub003/internal/storage/memory"
	pgstorage "github.com/dhruvfliptech/LeadGenAgent-sub003/internal/storage/postgres"
	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobStore, leadStore, err := buildStores(ctx, cfg)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	progressStore := storage.SelectProgressStore(ctx, storage.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TTL:      time.Duration(cfg.Redis.TTLHours) * time.Hour,
	}, logger.Named("storage"))

	registry, err := buildRegistry(cfg)
	if err != nil {
		logger.Fatal("source registry init failed", zap.Error(err))
	}

	promRegistry := prometheus.NewRegistry()
	mtr, err := metrics.New(promRegistry)
	if err != nil {
		logger.Fatal("metrics init failed", zap.Error(err))
	}

	broadcaster := progress.NewBroadcaster(progress.Config{
		SubscriberBuffer: cfg.Scrape.SubscriberBuffer,
		Logger:           logger.Named("progress"),
	})

	var publisher scrape.Publisher
	if cfg.PubSub.ProjectID != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Warn("pubsub client init failed, events disabled", zap.Error(err))
		} else {
			defer client.Close()
			publisher = pubsubpublisher.New(client)
		}
	}

	var blobs scrape.BlobStore
	if cfg.Archive.GCSBucket != "" {
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			logger.Warn("gcs client init failed, archiving disabled", zap.Error(err))
		} else {
			defer client.Close()
			blobs, err = gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Archive.GCSBucket})
			if err != nil {
				logger.Warn("gcs blob store init failed, archiving disabled", zap.Error(err))
				blobs = nil
			}
		}
	}

	retry := scrape.NewExponentialRetryPolicy(scrape.RetryConfig{
		MaxAttempts:      cfg.Scrape.MaxAttempts,
		BaseDelay:        time.Duration(cfg.Scrape.BackoffBaseMs) * time.Millisecond,
		MaxDelay:         time.Duration(cfg.Scrape.BackoffMaxMs) * time.Millisecond,
		CaptchaBaseDelay: time.Duration(cfg.Scrape.CaptchaBackoffMs) * time.Millisecond,
		CaptchaMaxDelay:  time.Duration(cfg.Scrape.CaptchaBackoffMaxMs) * time.Millisecond,
	})

	mgr := manager.New(ctx, manager.Deps{
		Jobs:        jobStore,
		Leads:       leadStore,
		Progress:    progressStore,
		Broadcaster: broadcaster,
		Dedup:       dedup.New(leadStore),
		Registry:    registry,
		Retry:       retry,
		Hasher:      sha256.New(),
		Clock:       system.New(),
		IDGen:       uuid.New(),
		Publisher:   publisher,
		Blobs:       blobs,
		Metrics:     mtr,
		Logger:      logger.Named("manager"),
		WorkerConfig: worker.Config{
			SnapshotEvery:      cfg.Scrape.SnapshotEvery,
			FetchTimeout:       cfg.FetchTimeout(),
			OpTimeout:          cfg.OpTimeout(),
			ArchivePrefix:      cfg.Archive.Prefix,
			ArchiveContentType: cfg.Archive.ContentType,
			LeadTopic:          cfg.PubSub.LeadTopic,
			JobTopic:           cfg.PubSub.JobTopic,
		},
	})

	apiServer := api.NewServer(mgr, broadcaster, promRegistry, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("manager shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// buildStores selects postgres when a DSN is configured, in-memory otherwise.
func buildStores(ctx context.Context, cfg config.Config) (scrape.JobStore, scrape.LeadStore, error) {
	if cfg.DB.DSN == "" {
		return memorystorage.NewJobStoreWithCap(cfg.Scrape.MaxErrors), memorystorage.NewLeadStore(), nil
	}
	jobStore, err := pgstorage.NewJobStore(ctx, pgstorage.JobStoreConfig{
		DSN:             cfg.DB.DSN,
		MaxConns:        int32(cfg.DB.MaxConns),
		MinConns:        int32(cfg.DB.MinConns),
		MaxConnLifetime: time.Duration(cfg.DB.ConnLifetimeSec) * time.Second,
		MaxErrors:       cfg.Scrape.MaxErrors,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("postgres job store: %w", err)
	}
	leadStore, err := pgstorage.NewLeadStore(ctx, cfg.DB.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres lead store: %w", err)
	}
	return jobStore, leadStore, nil
}

func buildRegistry(cfg config.Config) (*sources.Registry, error) {
	registry := sources.NewRegistry()
	for name, src := range cfg.Sources {
		adapter, err := directory.New(directory.Config{
			Name:             name,
			SearchURL:        src.SearchURL,
			ItemSelector:     src.ItemSelector,
			NameSelector:     src.NameSelector,
			LocationSelector: src.LocationSelector,
			URLSelector:      src.URLSelector,
			URLAttribute:     src.URLAttribute,
			UserAgent:        cfg.Scrape.UserAgent,
			Timeout:          cfg.FetchTimeout(),
			MaxRecords:       src.MaxRecords,
		})
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", name, err)
		}
		registry.Register(adapter)
	}
	return registry, nil
}
