// Package standings derives season standings and head-to-head matchup
// comparisons from synced games and team metric documents. Both tables are
// materialized views that can be dropped and rebuilt at any time.
package standings

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/albapepper/scoracle-pipeline/internal/db"
	"github.com/albapepper/scoracle-pipeline/internal/metrics"
	"github.com/albapepper/scoracle-pipeline/internal/provider"
	"github.com/albapepper/scoracle-pipeline/internal/seed"
)

// Standing is one team's record for a season.
type Standing struct {
	TeamID        int64   `json:"team_id" db:"team_id"`
	Season        int     `json:"season" db:"season"`
	Wins          int     `json:"wins" db:"wins"`
	Losses        int     `json:"losses" db:"losses"`
	Ties          int     `json:"ties" db:"ties"`
	Games         int     `json:"games" db:"games"`
	PointsFor     int     `json:"points_for" db:"points_for"`
	PointsAgainst int     `json:"points_against" db:"points_against"`
	WinPct        float64 `json:"win_pct" db:"win_pct"`
	UpdatedAt     int64   `json:"updated_at" db:"updated_at"`
}

// Game is the part of a game payload the aggregator reads.
type Game struct {
	ID            int64
	Season        int
	Week          int
	Postseason    bool
	Status        string
	HomeTeamID    int64
	VisitorTeamID int64
	HomeScore     *int
	VisitorScore  *int
}

// Completed reports whether the game has a final score.
func (g Game) Completed() bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(g.Status)), "final") &&
		g.HomeScore != nil && g.VisitorScore != nil
}

// Aggregator recomputes standings and matchups.
type Aggregator struct {
	db             *db.DB
	raw            *seed.Store
	docs           *metrics.Store
	comparisonKeys []string
	logger         *slog.Logger
	now            func() time.Time
}

// DefaultComparisonKeys are the team metrics compared in every matchup.
var DefaultComparisonKeys = []string{
	"points_per_game",
	"total_yards_per_game",
	"passing_yards_per_game",
	"rushing_yards_per_game",
	"first_downs_per_game",
	"turnovers_per_game",
}

// NewAggregator creates an aggregator. Nil comparisonKeys selects
// DefaultComparisonKeys.
func NewAggregator(d *db.DB, raw *seed.Store, docs *metrics.Store, comparisonKeys []string, logger *slog.Logger) *Aggregator {
	if len(comparisonKeys) == 0 {
		comparisonKeys = DefaultComparisonKeys
	}
	return &Aggregator{db: d, raw: raw, docs: docs, comparisonKeys: comparisonKeys, logger: logger, now: time.Now}
}

// WithClock overrides the timestamp source. Used by tests.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// Compute accumulates standings from completed regular-season games.
// Incomplete and postseason games are ignored.
func Compute(season int, games []Game) []Standing {
	byTeam := map[int64]*Standing{}
	team := func(id int64) *Standing {
		s, ok := byTeam[id]
		if !ok {
			s = &Standing{TeamID: id, Season: season}
			byTeam[id] = s
		}
		return s
	}

	for _, g := range games {
		if g.Postseason || !g.Completed() {
			continue
		}
		home, visitor := team(g.HomeTeamID), team(g.VisitorTeamID)
		hs, vs := *g.HomeScore, *g.VisitorScore

		home.Games++
		visitor.Games++
		home.PointsFor += hs
		home.PointsAgainst += vs
		visitor.PointsFor += vs
		visitor.PointsAgainst += hs

		switch {
		case hs > vs:
			home.Wins++
			visitor.Losses++
		case vs > hs:
			visitor.Wins++
			home.Losses++
		default:
			home.Ties++
			visitor.Ties++
		}
	}

	out := make([]Standing, 0, len(byTeam))
	for _, s := range byTeam {
		if s.Games > 0 {
			s.WinPct = (float64(s.Wins) + 0.5*float64(s.Ties)) / float64(s.Games)
		}
		out = append(out, *s)
	}
	sortStandings(out)
	return out
}

func sortStandings(s []Standing) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].WinPct != s[j].WinPct {
			return s[i].WinPct > s[j].WinPct
		}
		di, dj := s[i].PointsFor-s[i].PointsAgainst, s[j].PointsFor-s[j].PointsAgainst
		if di != dj {
			return di > dj
		}
		return s[i].TeamID < s[j].TeamID
	})
}

// RecomputeStandings rebuilds a season's standings from scratch.
func (a *Aggregator) RecomputeStandings(ctx context.Context, season int) ([]Standing, error) {
	games, err := a.seasonGames(ctx, season)
	if err != nil {
		return nil, err
	}
	standings := Compute(season, games)
	now := a.now().UnixMilli()
	for i := range standings {
		standings[i].UpdatedAt = now
	}
	if err := a.replaceStandings(ctx, season, standings); err != nil {
		return nil, err
	}
	a.logger.Info("Standings recomputed", "season", season, "teams", len(standings), "games", len(games))
	return standings, nil
}

func (a *Aggregator) replaceStandings(ctx context.Context, season int, standings []Standing) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx replace standings: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM standings WHERE season = ?`), season); err != nil {
		return fmt.Errorf("clear standings season=%d: %w", season, err)
	}
	for _, s := range standings {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO standings (team_id, season, wins, losses, ties, games, points_for, points_against, win_pct, updated_at)
			VALUES (:team_id, :season, :wins, :losses, :ties, :games, :points_for, :points_against, :win_pct, :updated_at)`, s); err != nil {
			return fmt.Errorf("insert standing team=%d season=%d: %w", s.TeamID, season, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace standings tx: %w", err)
	}
	return nil
}

// Standings returns the stored standings of a season, best record first.
func (a *Aggregator) Standings(ctx context.Context, season int) ([]Standing, error) {
	out := []Standing{}
	if err := a.db.SelectContext(ctx, &out, a.db.Rebind(`
		SELECT team_id, season, wins, losses, ties, games, points_for, points_against, win_pct, updated_at
		FROM standings WHERE season = ?`), season); err != nil {
		return nil, fmt.Errorf("list standings season=%d: %w", season, err)
	}
	sortStandings(out)
	return out, nil
}

// seasonGames loads every stored game of a season.
func (a *Aggregator) seasonGames(ctx context.Context, season int) ([]Game, error) {
	rows, err := a.raw.List(ctx, provider.Game, seed.Query{Season: season})
	if err != nil {
		return nil, err
	}
	games := make([]Game, 0, len(rows))
	for _, r := range rows {
		g, err := parseGame(r)
		if err != nil {
			a.logger.Warn("Skipping unreadable game", "natural_key", r.NaturalKey, "error", err)
			continue
		}
		games = append(games, g)
	}
	return games, nil
}

func parseGame(r seed.Row) (Game, error) {
	fields, err := r.Fields()
	if err != nil {
		return Game{}, err
	}
	g := Game{Postseason: r.Postseason}
	if r.GameID != nil {
		g.ID = *r.GameID
	}
	if r.Season != nil {
		g.Season = *r.Season
	}
	if r.Week != nil {
		g.Week = *r.Week
	}
	g.Status, _ = fields["status"].(string)
	g.HomeTeamID = teamID(fields, "home_team")
	g.VisitorTeamID = teamID(fields, "visitor_team")
	g.HomeScore = score(fields["home_team_score"])
	g.VisitorScore = score(fields["visitor_team_score"])
	if g.HomeTeamID == 0 || g.VisitorTeamID == 0 {
		return Game{}, fmt.Errorf("game %s: missing team ids", r.NaturalKey)
	}
	return g, nil
}

func teamID(fields map[string]any, name string) int64 {
	if nested, ok := fields[name].(map[string]any); ok {
		if v, ok := provider.ExtractValue(nested["id"]); ok {
			return int64(v)
		}
	}
	if v, ok := provider.ExtractValue(fields[name+"_id"]); ok {
		return int64(v)
	}
	return 0
}

func score(v any) *int {
	f, ok := provider.ExtractValue(v)
	if !ok {
		return nil
	}
	n := int(f)
	return &n
}
