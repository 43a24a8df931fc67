// Package app wires the pipeline's stores, engines and hooks from Config.
// Both commands build one App and use only what they need.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/albapepper/scoracle-pipeline/internal/cache"
	"github.com/albapepper/scoracle-pipeline/internal/config"
	"github.com/albapepper/scoracle-pipeline/internal/cursor"
	"github.com/albapepper/scoracle-pipeline/internal/db"
	"github.com/albapepper/scoracle-pipeline/internal/jobs"
	"github.com/albapepper/scoracle-pipeline/internal/listener"
	"github.com/albapepper/scoracle-pipeline/internal/lock"
	"github.com/albapepper/scoracle-pipeline/internal/maintenance"
	"github.com/albapepper/scoracle-pipeline/internal/metrics"
	"github.com/albapepper/scoracle-pipeline/internal/notifications"
	"github.com/albapepper/scoracle-pipeline/internal/provider/bdl"
	"github.com/albapepper/scoracle-pipeline/internal/seed"
	"github.com/albapepper/scoracle-pipeline/internal/standings"
	"github.com/albapepper/scoracle-pipeline/internal/syncer"
)

// App holds every long-lived dependency of the pipeline.
type App struct {
	Config *config.Config
	DB     *db.DB
	Logger *slog.Logger

	Cursors   *cursor.Store
	Raw       *seed.Store
	Sync      *syncer.Engine
	Docs      *metrics.Store
	Merge     *metrics.Engine
	Standings *standings.Aggregator

	Notifications *notifications.Store
	Notifier      *notifications.Notifier

	Jobs        *jobs.Registry
	Cache       *cache.Cache
	Maintenance *maintenance.Service
	Validate    *validator.Validate

	closers []func() error
}

// Fetcher lets tests swap the provider client.
type Fetcher = syncer.Fetcher

// New migrates (when AUTO_MIGRATE is set) and opens the database, then wires
// the pipeline. A nil fetcher selects the BallDontLie client configured in
// cfg.
func New(ctx context.Context, cfg *config.Config, fetcher Fetcher, logger *slog.Logger) (*App, error) {
	if cfg.AutoMigrate {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			return nil, err
		}
	}
	d, err := db.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a, err := Wire(ctx, cfg, d, fetcher, logger)
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	// The database closes last.
	a.closers = append([]func() error{d.Close}, a.closers...)
	return a, nil
}

// Wire builds an App over an open database.
func Wire(ctx context.Context, cfg *config.Config, d *db.DB, fetcher Fetcher, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, DB: d, Logger: logger, Validate: validator.New()}

	if fetcher == nil {
		fetcher = bdl.NewClient(cfg.BDLBaseURL, cfg.BDLAPIKey, cfg.BDLRequestsPerMinute, logger,
			bdl.WithRetries(cfg.BDLMaxRetries, 0),
			bdl.WithPerPage(cfg.BDLPerPage))
	}

	locker, err := a.newLocker(ctx)
	if err != nil {
		return nil, err
	}

	a.Cursors = cursor.NewStore(d)
	a.Raw = seed.NewStore(d, cfg.SyncBatchSize)
	a.Sync = syncer.NewEngine(fetcher, a.Raw, a.Cursors, locker, cfg.SyncLockTTL, logger)
	a.Docs = metrics.NewStore(d)
	a.Merge = metrics.NewEngine(a.Raw, a.Docs, logger)
	a.Standings = standings.NewAggregator(d, a.Raw, a.Docs, nil, logger)

	// Raw upserts re-merge the affected documents; changed team documents
	// refresh their matchups.
	a.Sync.AfterUpsert(a.Merge.HandleUpserted)
	a.Merge.AfterWrite(a.Standings.HandleDocument)

	a.Notifications = notifications.NewStore(d)
	var sink notifications.Sink
	if k := notifications.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic); k != nil {
		sink = k
		a.closers = append(a.closers, k.Close)
		logger.Info("Kafka event sink enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	dispatcher, err := notifications.NewDispatcher(
		notifications.NewHTTPClient(cfg.WebhookTimeout), a.Notifications, cfg.WebhookConcurrency, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.closers = append(a.closers, dispatcher.Close)
	a.Notifier = notifications.NewNotifier(a.Docs, a.Raw, a.Notifications, dispatcher, sink, logger)

	a.Cache = cache.New(cfg.CacheEnabled)
	a.Notifier.Observe(a.Cache.InvalidateChange)

	a.Jobs = jobs.NewRegistry(cfg.JobRetention, logger)
	a.closers = append(a.closers, func() error { a.Jobs.Close(); return nil })

	a.Maintenance = maintenance.New(a.Sync, a.Merge, a.Standings, maintenance.Config{
		RefreshSchedule: cfg.RefreshSchedule,
		RefreshSeason:   cfg.RefreshSeason,
		RemergeInterval: cfg.RemergeInterval,
		SyncWorkers:     cfg.SyncWorkers,
	}, logger)

	return a, nil
}

func (a *App) newLocker(ctx context.Context) (lock.Locker, error) {
	if a.Config.SyncLockBackend != "redis" {
		return lock.NewMemory(), nil
	}
	client := lock.NewRedisClient(a.Config.RedisAddr, a.Config.RedisPassword, a.Config.RedisDB)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis lock backend %s: %w", a.Config.RedisAddr, err)
	}
	a.closers = append(a.closers, client.Close)
	a.Logger.Info("Redis sync lock enabled", "addr", a.Config.RedisAddr)
	return lock.NewRedis(client, "scoracle:sync:"), nil
}

// ChangeSource picks the notifier's change source for this database.
func (a *App) ChangeSource(ctx context.Context) listener.ChangeSource {
	return listener.Select(ctx, a.DB, a.Cursors, []listener.Watch{
		listener.MetricWatch(a.Docs),
		listener.InjuryWatch(a.Raw),
	}, a.Config.NotifierPollInterval, a.Logger)
}

// Close releases everything the App opened, in reverse order.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}
