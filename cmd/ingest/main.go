// Command ingest is the Scoracle pipeline CLI.
//
// Usage:
//
//	scoracle-ingest sync game --season 2024
//	scoracle-ingest sync play --game 401671234 --fresh
//	scoracle-ingest backfill player_game_stat --season 2024 --workers 4
//	scoracle-ingest refresh --season 2024
//	scoracle-ingest fixtures process --season 2024 --max 20
//	scoracle-ingest merge remerge --season 2024
//	scoracle-ingest cursor list --prefix plays_cursor_
//	scoracle-ingest alerts load alerts.yaml
//	scoracle-ingest migrate up
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/albapepper/scoracle-pipeline/internal/app"
	"github.com/albapepper/scoracle-pipeline/internal/config"
	"github.com/albapepper/scoracle-pipeline/internal/db"
	"github.com/albapepper/scoracle-pipeline/internal/fixture"
	"github.com/albapepper/scoracle-pipeline/internal/jobs"
	"github.com/albapepper/scoracle-pipeline/internal/logging"
	"github.com/albapepper/scoracle-pipeline/internal/notifications"
	"github.com/albapepper/scoracle-pipeline/internal/provider"
)

var logger = logging.New("text", "info")

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:          "scoracle-ingest",
		Short:        "Scoracle pipeline CLI",
		SilenceUsage: true,
	}

	root.AddCommand(syncCmd())
	root.AddCommand(backfillCmd())
	root.AddCommand(refreshCmd())
	root.AddCommand(fixturesCmd())
	root.AddCommand(mergeCmd())
	root.AddCommand(standingsCmd())
	root.AddCommand(cursorCmd())
	root.AddCommand(alertsCmd())
	root.AddCommand(notifyCmd())
	root.AddCommand(migrateCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// sync / backfill commands
// --------------------------------------------------------------------------

func syncCmd() *cobra.Command {
	var req app.SyncRequest
	cmd := &cobra.Command{
		Use:   "sync <entity>",
		Short: "Sync one entity and filter set, resuming from its stored cursor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Entity = args[0]
			return runApp(func(ctx context.Context, a *app.App) error {
				if err := a.Validate.Struct(req); err != nil {
					return err
				}
				fn, err := a.SyncJob(req)
				if err != nil {
					return err
				}
				return runJob(a, app.KindSync, req, fn)
			})
		},
	}
	f := cmd.Flags()
	f.IntVar(&req.Season, "season", 0, "Season year")
	f.IntVar(&req.Week, "week", 0, "Week number")
	f.BoolVar(&req.Postseason, "postseason", false, "Postseason rows only")
	f.Int64Var(&req.TeamID, "team", 0, "Team ID")
	f.Int64Var(&req.GameID, "game", 0, "Game ID (required for per-game feeds)")
	f.Int64Var(&req.PlayerID, "player", 0, "Player ID")
	f.IntVar(&req.MaxPages, "max-pages", 0, "Stop after this many pages (0 = until exhausted)")
	f.BoolVar(&req.Fresh, "fresh", false, "Ignore the stored cursor and start from the first page")
	return cmd
}

func backfillCmd() *cobra.Command {
	var req app.BackfillRequest
	cmd := &cobra.Command{
		Use:   "backfill <entity>",
		Short: "Sync an entity once per stored game or team of a season",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Entity = args[0]
			return runApp(func(ctx context.Context, a *app.App) error {
				if err := a.Validate.Struct(req); err != nil {
					return err
				}
				fn, err := a.BackfillJob(req)
				if err != nil {
					return err
				}
				return runJob(a, app.KindBackfill, req, fn)
			})
		},
	}
	f := cmd.Flags()
	f.IntVar(&req.Season, "season", config.DefaultSeason, "Season year")
	f.IntVar(&req.Week, "week", 0, "Limit to one week (0 = whole season)")
	f.StringVar(&req.By, "by", "", "Unit: game or team (default depends on the entity)")
	f.Int64SliceVar(&req.GameIDs, "games", nil, "Explicit game IDs instead of stored games")
	f.IntVar(&req.Workers, "workers", 0, "Concurrent units (default SYNC_WORKERS)")
	f.BoolVar(&req.Fresh, "fresh", false, "Ignore stored cursors")
	return cmd
}

func refreshCmd() *cobra.Command {
	var season int
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Sync every season feed, then rebuild standings and matchups",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(func(ctx context.Context, a *app.App) error {
				if season == 0 {
					season = a.Config.RefreshSeason
				}
				return runJob(a, app.KindRefresh, map[string]int{"season": season}, a.RefreshJob(season))
			})
		},
	}
	cmd.Flags().IntVar(&season, "season", 0, "Season year (default REFRESH_SEASON)")
	return cmd
}

// --------------------------------------------------------------------------
// fixtures command
// --------------------------------------------------------------------------

func fixturesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fixtures",
		Short: "Backfill per-game feeds of finished games",
	}

	var (
		opts  fixture.Options
		feeds []string
	)
	process := &cobra.Command{
		Use:   "process",
		Short: "Find finished games with unfinished per-game feeds and sync them",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range feeds {
				e, err := provider.ParseEntityType(name)
				if err != nil {
					return err
				}
				if !e.PerGame() {
					return fmt.Errorf("%s is not a per-game feed", e)
				}
				opts.Feeds = append(opts.Feeds, e)
			}
			return runApp(func(ctx context.Context, a *app.App) error {
				if opts.Workers == 0 {
					opts.Workers = a.Config.SyncWorkers
				}
				result := fixture.ProcessPending(ctx, a.Sync, opts, logger)
				for _, e := range result.Errors {
					logger.Error("fixture error", "error", e)
				}
				if result.Failed > 0 {
					return fmt.Errorf("%d game syncs failed", result.Failed)
				}
				return nil
			})
		},
	}
	f := process.Flags()
	f.IntVar(&opts.Season, "season", config.DefaultSeason, "Season year")
	f.IntVar(&opts.MaxGames, "max", 50, "Maximum games to process")
	f.IntVar(&opts.Workers, "workers", 0, "Concurrent games (default SYNC_WORKERS)")
	f.StringSliceVar(&feeds, "feeds", nil, "Per-game feeds (default play)")

	cmd.AddCommand(process)
	return cmd
}

// --------------------------------------------------------------------------
// merge / standings commands
// --------------------------------------------------------------------------

func mergeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Recompute metric documents",
	}

	var season int
	remerge := &cobra.Command{
		Use:   "remerge",
		Short: "Re-merge every stored document of a season from its stored sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(func(ctx context.Context, a *app.App) error {
				start := time.Now()
				res, err := a.Merge.RemergeSeason(ctx, season)
				if err != nil {
					return err
				}
				logger.Info("Remerge finished", "season", season,
					"duration", time.Since(start).Round(time.Millisecond), "summary", res.String())
				return nil
			})
		},
	}
	remerge.Flags().IntVar(&season, "season", config.DefaultSeason, "Season year")

	var rebuildSeason int
	rebuild := &cobra.Command{
		Use:   "rebuild",
		Short: "Recompute every document, standing and matchup of a season from raw rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(func(ctx context.Context, a *app.App) error {
				params := map[string]int{"season": rebuildSeason}
				return runJob(a, app.KindRebuild, params, a.RebuildJob(rebuildSeason))
			})
		},
	}
	rebuild.Flags().IntVar(&rebuildSeason, "season", config.DefaultSeason, "Season year")

	cmd.AddCommand(remerge, rebuild)
	return cmd
}

func standingsCmd() *cobra.Command {
	var season, week int
	cmd := &cobra.Command{
		Use:   "standings",
		Short: "Recompute standings and matchups of a season",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(func(ctx context.Context, a *app.App) error {
				rows, err := a.Standings.RecomputeStandings(ctx, season)
				if err != nil {
					return err
				}
				matchups, err := a.Standings.RecomputeMatchups(ctx, season, week)
				if err != nil {
					return err
				}
				logger.Info("Standings recomputed", "season", season, "teams", len(rows), "matchups", matchups)
				for i, s := range rows {
					fmt.Printf("%2d. team %-6d %2d-%2d-%d  pct %.3f  diff %+d\n",
						i+1, s.TeamID, s.Wins, s.Losses, s.Ties, s.WinPct, s.PointsFor-s.PointsAgainst)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&season, "season", config.DefaultSeason, "Season year")
	cmd.Flags().IntVar(&week, "week", 0, "Limit matchups to one week (0 = whole season)")
	return cmd
}

// --------------------------------------------------------------------------
// cursor command
// --------------------------------------------------------------------------

func cursorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Inspect and reset sync cursors",
	}

	var prefix string
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored cursors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(func(ctx context.Context, a *app.App) error {
				records, err := a.Cursors.List(ctx, prefix)
				if err != nil {
					return err
				}
				for _, r := range records {
					fmt.Printf("%-48s %-16s %s\n", r.Key, cursorText(r.Cursor),
						time.UnixMilli(r.UpdatedAt).UTC().Format(time.RFC3339))
				}
				return nil
			})
		},
	}
	list.Flags().StringVar(&prefix, "prefix", "", "Key prefix filter")

	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Show one cursor record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(func(ctx context.Context, a *app.App) error {
				rec, err := a.Cursors.Record(ctx, args[0])
				if err != nil {
					return err
				}
				if rec == nil {
					return fmt.Errorf("no cursor stored for %q", args[0])
				}
				fmt.Printf("key:     %s\ncursor:  %s\nupdated: %s\nmeta:    %v\n", rec.Key, cursorText(rec.Cursor),
					time.UnixMilli(rec.UpdatedAt).UTC().Format(time.RFC3339), rec.Meta())
				return nil
			})
		},
	}

	reset := &cobra.Command{
		Use:   "reset <key>",
		Short: "Delete a cursor so the next sync starts from the first page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(func(ctx context.Context, a *app.App) error {
				removed, err := a.Cursors.Reset(ctx, args[0])
				if err != nil {
					return err
				}
				logger.Info("Cursor reset", "key", args[0], "removed", removed)
				return nil
			})
		},
	}

	cmd.AddCommand(list, get, reset)
	return cmd
}

func cursorText(c *string) string {
	if c == nil {
		return "<end>"
	}
	return *c
}

// --------------------------------------------------------------------------
// alerts / notify commands
// --------------------------------------------------------------------------

func alertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Manage webhook subscriptions and threshold alerts",
	}
	load := &cobra.Command{
		Use:   "load <manifest.yaml>",
		Short: "Create or update subscriptions and alerts from a YAML manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(func(ctx context.Context, a *app.App) error {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				m, err := notifications.ParseManifest(f, a.Validate)
				if err != nil {
					return err
				}
				res, err := a.Notifications.ApplyManifest(ctx, m)
				if err != nil {
					return err
				}
				logger.Info("Manifest applied", "file", args[0],
					"subscriptions", res.Subscriptions, "alerts", res.Alerts)
				return nil
			})
		},
	}
	cmd.AddCommand(load)
	return cmd
}

func notifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notify",
		Short: "Run the change notifier in the foreground until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(func(ctx context.Context, a *app.App) error {
				source := a.ChangeSource(ctx)
				logger.Info("Change notifier started", "source", source.Name())
				err := source.Run(ctx, a.Notifier.HandleChange)
				if ctx.Err() != nil {
					return nil
				}
				return err
			})
		},
	}
}

// --------------------------------------------------------------------------
// migrate command
// --------------------------------------------------------------------------

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back schema migrations",
	}
	up := &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := db.Migrate(cfg.DatabaseURL); err != nil {
				return err
			}
			logger.Info("Migrations applied")
			return nil
		},
	}
	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := db.MigrateDown(cfg.DatabaseURL, steps); err != nil {
				return err
			}
			logger.Info("Migrations rolled back", "steps", steps)
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back")
	version := &cobra.Command{
		Use:   "version",
		Short: "Print the applied migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			v, dirty, err := db.MigrationVersion(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			fmt.Printf("version %d (dirty: %t)\n", v, dirty)
			return nil
		},
	}
	cmd.AddCommand(up, down, version)
	return cmd
}

// --------------------------------------------------------------------------
// Shared setup
// --------------------------------------------------------------------------

// runApp handles config loading, wiring and context cancellation.
func runApp(fn func(ctx context.Context, a *app.App) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = logging.New("text", cfg.LogLevel)

	a, err := app.New(ctx, cfg, nil, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// Interrupts cancel running jobs; their cursors are already persisted.
	go func() {
		<-ctx.Done()
		a.Jobs.Close()
	}()

	return fn(ctx, a)
}

// runJob runs fn through the job registry, logging each event until the job
// finishes.
func runJob(a *app.App, kind string, params any, fn jobs.Func) error {
	start := time.Now()
	info := a.Jobs.Start(kind, params, fn)
	sub, err := a.Jobs.Subscribe(info.ID)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	for ev := range sub.Events() {
		switch ev.Type {
		case jobs.EventProgress:
			logger.Info("Progress", "job", kind, "data", ev.Data)
		case jobs.EventError:
			logger.Error("Job failed", "job", kind, "error", ev.Data)
		case jobs.EventComplete:
			logger.Info("Job finished", "job", kind,
				"duration", time.Since(start).Round(time.Millisecond), "result", ev.Data)
		}
	}

	final, err := a.Jobs.Get(info.ID)
	if err != nil {
		return err
	}
	if final.Status == jobs.StatusFailed {
		return fmt.Errorf("%s job failed: %s", kind, final.Error)
	}
	return nil
}
