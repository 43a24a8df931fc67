package fixture

import (
	"context"
	"log/slog"
	"time"

	"github.com/albapepper/scoracle-pipeline/internal/provider"
	"github.com/albapepper/scoracle-pipeline/internal/syncer"
)

// Options tune a post-game run. Zero values select the defaults.
type Options struct {
	Season   int
	Feeds    []provider.EntityType
	MaxGames int
	Workers  int
}

// ProcessPending finds pending (game, feed) pairs for a season and
// backfills them. Pairs are grouped by feed so each feed runs as one
// backfill over the engine's worker pool; a failing game never stops the
// others.
func ProcessPending(ctx context.Context, engine *syncer.Engine, opts Options, logger *slog.Logger) SchedulerResult {
	start := time.Now()
	var result SchedulerResult

	pending, games, err := GetPending(ctx, engine.Raw(), engine.Cursors(), opts.Season, opts.Feeds, opts.MaxGames)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		result.Duration = time.Since(start)
		return result
	}

	result.GamesFound = games
	result.Pending = len(pending)
	if len(pending) == 0 {
		logger.Info("No finished games pending", "season", opts.Season)
		result.Duration = time.Since(start)
		return result
	}

	logger.Info("Found finished games pending", "season", opts.Season, "games", games, "pairs", len(pending))

	// Group by feed, keeping first-seen order.
	var order []provider.EntityType
	groups := make(map[provider.EntityType][]int64)
	for _, p := range pending {
		if _, ok := groups[p.Feed]; !ok {
			order = append(order, p.Feed)
		}
		groups[p.Feed] = append(groups[p.Feed], p.GameID)
	}

	for _, feed := range order {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, ctx.Err().Error())
			break
		}
		ids := groups[feed]
		// An interrupted stream continues from its stored cursor; a completed
		// one stores nil and starts over.
		res, err := engine.BackfillGames(ctx, feed, provider.Filters{}, ids, syncer.BackfillOptions{
			Workers: opts.Workers,
			Resume:  true,
		})
		fr := FeedResult{Feed: feed, Games: len(ids)}
		if err != nil {
			fr.Failed = len(ids)
			result.Errors = append(result.Errors, err.Error())
		} else {
			fr.Succeeded, fr.Failed, fr.Upserted = res.Succeeded, res.Failed, res.Upserted
			result.Errors = append(result.Errors, res.Errors...)
		}
		result.Succeeded += fr.Succeeded
		result.Failed += fr.Failed
		result.Feeds = append(result.Feeds, fr)
	}

	result.Duration = time.Since(start)
	logger.Info("Post-game run complete", "season", opts.Season, "summary", result.Summary())
	return result
}
