// Package maintenance runs the scheduled background work of the pipeline:
// a cron-driven refresh of the season's provider feeds and a ticker-driven
// re-merge sweep over stored metric documents.
package maintenance

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/albapepper/scoracle-pipeline/internal/metrics"
	"github.com/albapepper/scoracle-pipeline/internal/provider"
	"github.com/albapepper/scoracle-pipeline/internal/standings"
	"github.com/albapepper/scoracle-pipeline/internal/syncer"
)

// Config controls the scheduled tasks. An empty schedule or zero interval
// disables that task.
type Config struct {
	RefreshSchedule string        // cron spec, e.g. "*/30 * * * *" or "@hourly"
	RefreshSeason   int           // season refreshed by the schedule
	RemergeInterval time.Duration // stored-source re-merge sweep
	SyncWorkers     int
}

// RefreshFeeds lists the feeds a refresh syncs, in order. Season-filtered
// feeds come after games so documents can resolve their game context.
var RefreshFeeds = []provider.EntityType{
	provider.Team,
	provider.Game,
	provider.SeasonStat,
	provider.TeamSeasonStat,
	provider.PlayerGameStat,
	provider.TeamGameStat,
	provider.AdvancedPassing,
	provider.AdvancedRushing,
	provider.AdvancedReceiving,
	provider.Injury,
}

// Service owns the scheduled tasks.
type Service struct {
	sync      *syncer.Engine
	merge     *metrics.Engine
	standings *standings.Aggregator
	cfg       Config
	logger    *slog.Logger
	running   atomic.Bool
}

// New creates a maintenance service.
func New(sync *syncer.Engine, merge *metrics.Engine, agg *standings.Aggregator, cfg Config, logger *slog.Logger) *Service {
	return &Service{sync: sync, merge: merge, standings: agg, cfg: cfg, logger: logger}
}

// Start schedules the configured tasks and blocks until ctx is cancelled.
// Intended to be called with `go`.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("Maintenance started",
		"refresh_schedule", s.cfg.RefreshSchedule,
		"refresh_season", s.cfg.RefreshSeason,
		"remerge_interval", s.cfg.RemergeInterval)

	var c *cron.Cron
	if s.cfg.RefreshSchedule != "" {
		logger := cronLogger{s.logger}
		c = cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
		if _, err := c.AddFunc(s.cfg.RefreshSchedule, func() {
			if _, err := s.Refresh(ctx, s.cfg.RefreshSeason); err != nil {
				s.logger.Warn("Scheduled refresh failed", "season", s.cfg.RefreshSeason, "error", err)
			}
		}); err != nil {
			return err
		}
		c.Start()
	}

	if s.cfg.RemergeInterval > 0 {
		t := time.NewTicker(s.cfg.RemergeInterval)
		defer t.Stop()
		go runLoop(ctx, t.C, func() { s.remerge(ctx) })
	}

	<-ctx.Done()
	if c != nil {
		<-c.Stop().Done()
	}
	s.logger.Info("Maintenance stopped")
	return nil
}

func runLoop(ctx context.Context, ch <-chan time.Time, fn func()) {
	for {
		select {
		case <-ch:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) remerge(ctx context.Context) {
	res, err := s.merge.RemergeSeason(ctx, s.cfg.RefreshSeason)
	if err != nil {
		s.logger.Warn("Re-merge sweep failed", "season", s.cfg.RefreshSeason, "error", err)
		return
	}
	if res.Changed > 0 || res.Failed > 0 {
		s.logger.Info("Re-merge sweep finished", "season", res.Season,
			"documents", res.Documents, "changed", res.Changed, "failed", res.Failed)
	}
}

// cronLogger adapts slog to cron's logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
