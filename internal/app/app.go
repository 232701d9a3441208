// Package app initializes and holds the long-lived application services,
// acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/scoutline/creator-discovery/internal/adapters"
	"github.com/scoutline/creator-discovery/internal/adapters/longvideo"
	"github.com/scoutline/creator-discovery/internal/adapters/reels"
	"github.com/scoutline/creator-discovery/internal/adapters/shortvideo"
	"github.com/scoutline/creator-discovery/internal/api"
	gcsarchive "github.com/scoutline/creator-discovery/internal/archive/gcs"
	"github.com/scoutline/creator-discovery/internal/clock/system"
	"github.com/scoutline/creator-discovery/internal/config"
	"github.com/scoutline/creator-discovery/internal/creator"
	"github.com/scoutline/creator-discovery/internal/dispatch"
	"github.com/scoutline/creator-discovery/internal/expansion"
	idgen "github.com/scoutline/creator-discovery/internal/id/uuid"
	"github.com/scoutline/creator-discovery/internal/jobs"
	"github.com/scoutline/creator-discovery/internal/logging"
	"github.com/scoutline/creator-discovery/internal/metrics"
	"github.com/scoutline/creator-discovery/internal/pipeline"
	pubsubpub "github.com/scoutline/creator-discovery/internal/publisher/pubsub"
)

// App holds the shared, long-lived services of the discovery service. It is
// initialized once at startup and fails fast when a critical dependency
// cannot be reached.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Tracker   *jobs.Tracker
	Creators  *jobs.CreatorStore
	Publisher *pubsubpub.Publisher
	Archive   *gcsarchive.Store
	Server    *api.Server

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// New builds every service from the configuration.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, err
	}
	metrics.Init()

	clock := system.New()
	ids := idgen.New()

	tracker, err := jobs.NewTracker(ctx, jobs.TrackerConfig{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxOpenConns),
	}, clock, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize job tracker: %w", err)
	}
	if err := tracker.EnsureSchema(ctx); err != nil {
		tracker.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	creators := jobs.NewCreatorStore(tracker.DB(), clock, logger)

	publisher, err := pubsubpub.New(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		tracker.Close()
		return nil, fmt.Errorf("initialize publisher: %w", err)
	}

	var archive *gcsarchive.Store
	if cfg.Archive.Enabled {
		archive, err = gcsarchive.New(ctx, cfg.Archive.GCSBucket, logger)
		if err != nil {
			publisher.Close()
			tracker.Close()
			return nil, fmt.Errorf("initialize archive: %w", err)
		}
		logger.Info("raw run archive enabled", zap.String("bucket", cfg.Archive.GCSBucket))
	}

	var generator expansion.Generator
	if cfg.Anthropic.APIKey != "" {
		gen, err := expansion.NewClaudeGenerator(expansion.ClaudeConfig{
			APIKey:  cfg.Anthropic.APIKey,
			Model:   cfg.Anthropic.Model,
			Timeout: time.Duration(cfg.Anthropic.TimeoutSeconds) * time.Second,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("initialize keyword generator: %w", err)
		}
		generator = gen
	} else {
		logger.Info("no anthropic key configured, keyword expansion uses deterministic fallback")
	}

	registry := buildRegistry(cfg)
	searchConfigs := cfg.SearchConfigs()
	pipeCfg := pipeline.Config{
		EnrichWorkers: cfg.Pipeline.EnrichWorkers,
		QueueDepth:    cfg.Pipeline.QueueDepth,
	}

	dispatcher := dispatch.NewDispatcher(tracker, publisher, cfg.PubSub.DeadLetterURL, ids, clock, logger)
	var blob creator.BlobStore
	if archive != nil {
		blob = archive
	}
	workers := dispatch.NewHandlers(
		tracker, creators, publisher, cfg.PubSub.DeadLetterURL, registry, generator,
		searchConfigs, pipeCfg, blob, clock, logger,
	)

	server := api.NewServer(tracker, creators, dispatcher, workers, cfg, logger)

	logger.Info("application services initialized",
		zap.Int("platforms", len(searchConfigs)),
		zap.Bool("expansion_ai", generator != nil),
	)
	return &App{
		Config:    cfg,
		Logger:    logger,
		Tracker:   tracker,
		Creators:  creators,
		Publisher: publisher,
		Archive:   archive,
		Server:    server,
	}, nil
}

func buildRegistry(cfg config.Config) *adapters.Registry {
	var list []creator.Adapter
	for name, p := range cfg.Platforms {
		client := adapters.NewClient(
			p.BaseURL,
			p.APIKey,
			time.Duration(p.TimeoutSeconds)*time.Second,
			p.RequestsPerSecond,
		)
		switch creator.Platform(name) {
		case creator.PlatformShortVideo:
			list = append(list, shortvideo.New(client))
		case creator.PlatformReels:
			list = append(list, reels.New(client))
		case creator.PlatformLongVideo:
			list = append(list, longvideo.New(client))
		}
	}
	return adapters.NewRegistry(list...)
}

// StartStaleSweep launches the background ticker that resolves jobs stuck
// with no progress inside the stale window.
func (a *App) StartStaleSweep(ctx context.Context) {
	interval := a.Config.SweepInterval()
	staleAfter := a.Config.StaleAfter()
	if interval <= 0 || staleAfter <= 0 {
		a.Logger.Info("stale sweep disabled")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	a.sweepCancel = cancel
	a.sweepDone = make(chan struct{})

	go func() {
		defer close(a.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				resolved, err := a.Tracker.CheckStaleAndComplete(ctx, staleAfter)
				if err != nil {
					a.Logger.Warn("stale sweep failed", zap.Error(err))
					continue
				}
				if len(resolved) > 0 {
					a.Logger.Info("stale sweep resolved jobs",
						zap.Int("count", len(resolved)),
						zap.Strings("job_ids", resolved),
					)
				}
			}
		}
	}()
	a.Logger.Info("stale sweep started",
		zap.Duration("interval", interval),
		zap.Duration("stale_after", staleAfter),
	)
}

// Close gracefully shuts down all services.
func (a *App) Close() {
	if a.sweepCancel != nil {
		a.sweepCancel()
		<-a.sweepDone
	}
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			a.Logger.Warn("error closing publisher", zap.Error(err))
		}
	}
	if a.Archive != nil {
		if err := a.Archive.Close(); err != nil {
			a.Logger.Warn("error closing archive", zap.Error(err))
		}
	}
	a.Tracker.Close()
	_ = a.Logger.Sync()
}
