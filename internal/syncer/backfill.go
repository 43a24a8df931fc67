package syncer

import (
	"context"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/albapepper/scoracle-pipeline/internal/provider"
)

const defaultWorkers = 3

// BackfillOptions tune a multi-unit backfill.
type BackfillOptions struct {
	Workers  int
	MaxPages int
	Resume   bool
	// OnUnit is called once per finished unit, successful or not.
	OnUnit func(unit provider.Filters, res Result, err error)
}

// BackfillGames syncs a per-game entity once per game id. Each game has its
// own cursor key, and one failing game never stops the others.
func (e *Engine) BackfillGames(ctx context.Context, entity provider.EntityType, base provider.Filters, gameIDs []int64, opts BackfillOptions) (*BackfillResult, error) {
	units := make([]provider.Filters, 0, len(gameIDs))
	for _, id := range gameIDs {
		f := base
		f.GameID = id
		units = append(units, f)
	}
	return e.backfill(ctx, entity, units, opts)
}

// BackfillTeams syncs entity once per team id with the same
// continue-on-error policy.
func (e *Engine) BackfillTeams(ctx context.Context, entity provider.EntityType, base provider.Filters, teamIDs []int64, opts BackfillOptions) (*BackfillResult, error) {
	units := make([]provider.Filters, 0, len(teamIDs))
	for _, id := range teamIDs {
		f := base
		f.TeamID = id
		units = append(units, f)
	}
	return e.backfill(ctx, entity, units, opts)
}

func (e *Engine) backfill(ctx context.Context, entity provider.EntityType, units []provider.Filters, opts BackfillOptions) (*BackfillResult, error) {
	result := &BackfillResult{Entity: string(entity), Units: len(units)}
	if len(units) == 0 {
		return result, nil
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	workers = min(workers, len(units))

	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	logger := e.logger.With("entity", string(entity))
	logger.Info("Backfill starting", "units", len(units), "workers", workers)

	var wg sync.WaitGroup
	for _, unit := range units {
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()

			if err := ctx.Err(); err != nil {
				result.AddErrorf("%s: %v", provider.JobKey(entity, unit), err)
				return
			}
			res, err := e.SyncEntity(ctx, entity, unit, Options{MaxPages: opts.MaxPages, Resume: opts.Resume})
			if err != nil {
				logger.Warn("Backfill unit failed", "key", provider.JobKey(entity, unit), "error", err)
				result.AddErrorf("%s: %v", provider.JobKey(entity, unit), err)
			} else {
				result.Add(res)
			}
			if opts.OnUnit != nil {
				opts.OnUnit(unit, res, err)
			}
		}); err != nil {
			wg.Done()
			result.AddErrorf("%s: submit: %v", provider.JobKey(entity, unit), err)
		}
	}
	wg.Wait()

	logger.Info("Backfill complete", "summary", result.Summary())
	return result, nil
}
