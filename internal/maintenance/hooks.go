package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/albapepper/scoracle-pipeline/internal/fixture"
	"github.com/albapepper/scoracle-pipeline/internal/provider"
	"github.com/albapepper/scoracle-pipeline/internal/syncer"
)

// FeedResult is the outcome of one feed in a refresh.
type FeedResult struct {
	Entity   provider.EntityType `json:"entity"`
	Pages    int                 `json:"pages"`
	Fetched  int                 `json:"fetched"`
	Upserted int                 `json:"upserted"`
	Skipped  int                 `json:"skipped"`
	Error    string              `json:"error,omitempty"`
}

// RefreshResult summarizes one refresh cycle.
type RefreshResult struct {
	Season    int                      `json:"season"`
	Feeds     []FeedResult             `json:"feeds"`
	Postgame  *fixture.SchedulerResult `json:"postgame,omitempty"`
	Standings int                      `json:"standings"`
	Matchups  int                      `json:"matchups"`
	Failed    int                      `json:"failed"`
	Duration  string                   `json:"duration"`
}

// Refresh syncs every feed of RefreshFeeds for season, backfills the
// per-game feeds of games that went final, then rebuilds standings and
// matchups. A failing feed is recorded and the rest still
// run; only an overlapping refresh is rejected outright.
func (s *Service) Refresh(ctx context.Context, season int) (*RefreshResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, syncer.ErrJobInProgress
	}
	defer s.running.Store(false)

	start := time.Now()
	res := &RefreshResult{Season: season}
	for _, entity := range RefreshFeeds {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		f := provider.Filters{Season: season}
		if entity == provider.Team || entity == provider.Injury {
			f = provider.Filters{}
		}
		r, err := s.sync.SyncEntity(ctx, entity, f, syncer.DefaultOptions())
		fr := FeedResult{Entity: entity, Pages: r.Pages, Fetched: r.Fetched, Upserted: r.Upserted, Skipped: r.Skipped}
		if err != nil {
			fr.Error = err.Error()
			res.Failed++
			s.logger.Warn("Refresh feed failed", "entity", entity, "season", season, "error", err)
		}
		res.Feeds = append(res.Feeds, fr)
	}

	post := fixture.ProcessPending(ctx, s.sync, fixture.Options{Season: season, Workers: s.cfg.SyncWorkers}, s.logger)
	res.Postgame = &post

	if err := s.refreshDerived(ctx, res); err != nil {
		return res, err
	}
	res.Duration = time.Since(start).Round(time.Millisecond).String()
	s.logger.Info("Refresh finished", "season", season, "failed", res.Failed,
		"standings", res.Standings, "matchups", res.Matchups, "duration", res.Duration)
	return res, nil
}

// refreshDerived rebuilds the tables computed from raw games and team
// documents after an ingestion cycle.
func (s *Service) refreshDerived(ctx context.Context, res *RefreshResult) error {
	rows, err := s.standings.RecomputeStandings(ctx, res.Season)
	if err != nil {
		return fmt.Errorf("refresh standings: %w", err)
	}
	res.Standings = len(rows)

	n, err := s.standings.RecomputeMatchups(ctx, res.Season, 0)
	if err != nil {
		return fmt.Errorf("refresh matchups: %w", err)
	}
	res.Matchups = n
	return nil
}
