package app

import (
	"context"
	"fmt"

	"github.com/albapepper/scoracle-pipeline/internal/jobs"
	"github.com/albapepper/scoracle-pipeline/internal/provider"
	"github.com/albapepper/scoracle-pipeline/internal/syncer"
)

// Job kinds.
const (
	KindSync     = "sync"
	KindBackfill = "backfill"
	KindRefresh  = "refresh"
	KindRebuild  = "rebuild"
)

// SyncRequest starts a single-key sync.
type SyncRequest struct {
	Entity     string `json:"entity" validate:"required"`
	Season     int    `json:"season,omitempty" validate:"omitempty,gte=2002,lte=2100"`
	Week       int    `json:"week,omitempty" validate:"omitempty,gte=0,lte=25"`
	Postseason bool   `json:"postseason,omitempty"`
	TeamID     int64  `json:"team_id,omitempty" validate:"omitempty,gt=0"`
	GameID     int64  `json:"game_id,omitempty" validate:"omitempty,gt=0"`
	PlayerID   int64  `json:"player_id,omitempty" validate:"omitempty,gt=0"`
	MaxPages   int    `json:"max_pages,omitempty" validate:"omitempty,gte=0"`
	// Fresh ignores the stored cursor and starts from the first page.
	Fresh bool `json:"fresh,omitempty"`
}

// Filters returns the provider filters of the request.
func (r SyncRequest) Filters() provider.Filters {
	return provider.Filters{
		Season:     r.Season,
		Week:       r.Week,
		Postseason: r.Postseason,
		TeamID:     r.TeamID,
		GameID:     r.GameID,
		PlayerID:   r.PlayerID,
	}
}

// BackfillRequest starts a per-game or per-team backfill.
type BackfillRequest struct {
	Entity string `json:"entity" validate:"required"`
	Season int    `json:"season" validate:"required,gte=2002,lte=2100"`
	Week   int    `json:"week,omitempty" validate:"omitempty,gte=0,lte=25"`
	// By selects the unit: game (default for per-game feeds) or team.
	By      string  `json:"by,omitempty" validate:"omitempty,oneof=game team"`
	GameIDs []int64 `json:"game_ids,omitempty" validate:"omitempty,dive,gt=0"`
	Workers int     `json:"workers,omitempty" validate:"omitempty,gte=1,lte=32"`
	Fresh   bool    `json:"fresh,omitempty"`
}

// SyncJob returns the job body for req. The entity is validated up front so
// a bad request fails before a job is registered.
func (a *App) SyncJob(req SyncRequest) (jobs.Func, error) {
	entity, err := provider.ParseEntityType(req.Entity)
	if err != nil {
		return nil, err
	}
	filters := req.Filters()
	return func(ctx context.Context, report jobs.Reporter) (any, error) {
		opts := syncer.Options{
			MaxPages: req.MaxPages,
			Resume:   !req.Fresh,
			OnPage:   func(p syncer.Progress) { report.Progress(p) },
		}
		res, err := a.Sync.SyncEntity(ctx, entity, filters, opts)
		if err != nil {
			return nil, err
		}
		return res, nil
	}, nil
}

// BackfillJob returns the job body for req.
func (a *App) BackfillJob(req BackfillRequest) (jobs.Func, error) {
	entity, err := provider.ParseEntityType(req.Entity)
	if err != nil {
		return nil, err
	}
	by := req.By
	if by == "" {
		by = "team"
		if entity.PerGame() {
			by = "game"
		}
	}
	workers := req.Workers
	if workers == 0 {
		workers = a.Config.SyncWorkers
	}

	return func(ctx context.Context, report jobs.Reporter) (any, error) {
		opts := syncer.BackfillOptions{
			Workers: workers,
			Resume:  !req.Fresh,
			OnUnit: func(unit provider.Filters, res syncer.Result, err error) {
				p := map[string]any{"unit": provider.JobKey(entity, unit), "result": res}
				if err != nil {
					p["error"] = err.Error()
				}
				report.Progress(p)
			},
		}
		base := provider.Filters{Season: req.Season, Week: req.Week}

		if by == "game" {
			ids := req.GameIDs
			if len(ids) == 0 {
				var err error
				if ids, err = a.Raw.GameIDs(ctx, req.Season, req.Week); err != nil {
					return nil, err
				}
			}
			if len(ids) == 0 {
				return nil, fmt.Errorf("no stored games for season %d; sync games first", req.Season)
			}
			return a.Sync.BackfillGames(ctx, entity, base, ids, opts)
		}

		ids, err := a.Raw.TeamIDs(ctx)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, fmt.Errorf("no stored teams; sync teams first")
		}
		return a.Sync.BackfillTeams(ctx, entity, base, ids, opts)
	}, nil
}

// RefreshJob returns the job body for a maintenance refresh of season.
func (a *App) RefreshJob(season int) jobs.Func {
	return func(ctx context.Context, _ jobs.Reporter) (any, error) {
		return a.Maintenance.Refresh(ctx, season)
	}
}

// RebuildJob returns the job body that rebuilds every document of a season
// from raw rows, then its standings and matchups.
func (a *App) RebuildJob(season int) jobs.Func {
	return func(ctx context.Context, report jobs.Reporter) (any, error) {
		sweep, err := a.Merge.RebuildSeason(ctx, season)
		if err != nil {
			return nil, err
		}
		report.Progress(sweep)
		rows, err := a.Standings.RecomputeStandings(ctx, season)
		if err != nil {
			return nil, err
		}
		matchups, err := a.Standings.RecomputeMatchups(ctx, season, 0)
		if err != nil {
			return nil, err
		}
		return map[string]any{"documents": sweep, "standings": len(rows), "matchups": matchups}, nil
	}
}
