package standings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/albapepper/scoracle-pipeline/internal/metrics"
	"github.com/albapepper/scoracle-pipeline/internal/provider"
)

// Comparison is one compared metric.
type Comparison struct {
	Home    float64 `json:"home"`
	Visitor float64 `json:"visitor"`
	Diff    float64 `json:"diff"`
}

// Matchup compares the two teams of a game.
type Matchup struct {
	GameID        int64                 `json:"game_id"`
	Season        int                   `json:"season"`
	Week          int                   `json:"week"`
	HomeTeamID    int64                 `json:"home_team_id"`
	VisitorTeamID int64                 `json:"visitor_team_id"`
	Home          map[string]float64    `json:"home"`
	Visitor       map[string]float64    `json:"visitor"`
	Comparison    map[string]Comparison `json:"comparison"`
	UpdatedAt     int64                 `json:"updated_at"`
}

// Compare builds the comparison of two metric snapshots. A key missing on
// either side counts as zero.
func Compare(home, visitor map[string]float64, keys []string) map[string]Comparison {
	out := make(map[string]Comparison, len(keys))
	for _, k := range keys {
		h, v := home[k], visitor[k]
		out[k] = Comparison{Home: h, Visitor: v, Diff: h - v}
	}
	return out
}

// RecomputeMatchup rebuilds the matchup of one stored game. Returns nil
// when the game is unknown.
func (a *Aggregator) RecomputeMatchup(ctx context.Context, gameID int64) (*Matchup, error) {
	row, err := a.raw.Get(ctx, provider.Game, fmt.Sprint(gameID))
	if err != nil || row == nil {
		return nil, err
	}
	g, err := parseGame(*row)
	if err != nil {
		return nil, err
	}
	return a.recompute(ctx, g)
}

// RecomputeMatchups rebuilds the matchups of a season, or of one week when
// week is positive. One failing game does not stop the others.
func (a *Aggregator) RecomputeMatchups(ctx context.Context, season, week int) (int, error) {
	games, err := a.seasonGames(ctx, season)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, g := range games {
		if week > 0 && g.Week != week {
			continue
		}
		if _, err := a.recompute(ctx, g); err != nil {
			a.logger.Warn("Matchup recompute failed", "game_id", g.ID, "error", err)
			continue
		}
		n++
	}
	a.logger.Info("Matchups recomputed", "season", season, "week", week, "games", n)
	return n, nil
}

// OnTeamDocumentChanged rebuilds every matchup of a team's season.
func (a *Aggregator) OnTeamDocumentChanged(ctx context.Context, teamID int64, season int) (int, error) {
	games, err := a.seasonGames(ctx, season)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, g := range games {
		if g.HomeTeamID != teamID && g.VisitorTeamID != teamID {
			continue
		}
		if _, err := a.recompute(ctx, g); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// HandleDocument is a metrics after-write hook: a changed team season
// document refreshes that team's matchups.
func (a *Aggregator) HandleDocument(ctx context.Context, doc metrics.Document) error {
	if doc.EntityType != metrics.EntityTeam || doc.Scope != metrics.ScopeSeason {
		return nil
	}
	_, err := a.OnTeamDocumentChanged(ctx, doc.EntityID, doc.Season)
	return err
}

func (a *Aggregator) recompute(ctx context.Context, g Game) (*Matchup, error) {
	home, err := a.teamMetrics(ctx, g.HomeTeamID, g.Season)
	if err != nil {
		return nil, err
	}
	visitor, err := a.teamMetrics(ctx, g.VisitorTeamID, g.Season)
	if err != nil {
		return nil, err
	}

	m := &Matchup{
		GameID:        g.ID,
		Season:        g.Season,
		Week:          g.Week,
		HomeTeamID:    g.HomeTeamID,
		VisitorTeamID: g.VisitorTeamID,
		Home:          home,
		Visitor:       visitor,
		Comparison:    Compare(home, visitor, a.comparisonKeys),
		UpdatedAt:     a.now().UnixMilli(),
	}
	if err := a.saveMatchup(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// teamMetrics returns a team's season metrics, or an empty snapshot when
// the team has no document yet.
func (a *Aggregator) teamMetrics(ctx context.Context, teamID int64, season int) (map[string]float64, error) {
	doc, err := a.docs.Get(ctx, metrics.DocKey{EntityType: metrics.EntityTeam, EntityID: teamID, Season: season, Scope: metrics.ScopeSeason})
	if err != nil {
		return nil, err
	}
	if doc == nil || doc.Metrics == nil {
		return map[string]float64{}, nil
	}
	return doc.Metrics, nil
}

type matchupRow struct {
	GameID        int64  `db:"game_id"`
	Season        int    `db:"season"`
	Week          int    `db:"week"`
	HomeTeamID    int64  `db:"home_team_id"`
	VisitorTeamID int64  `db:"visitor_team_id"`
	Home          string `db:"home"`
	Visitor       string `db:"visitor"`
	Comparison    string `db:"comparison"`
	UpdatedAt     int64  `db:"updated_at"`
}

func (a *Aggregator) saveMatchup(ctx context.Context, m *Matchup) error {
	home, err := sonic.MarshalString(m.Home)
	if err != nil {
		return fmt.Errorf("encode matchup %d: %w", m.GameID, err)
	}
	visitor, err := sonic.MarshalString(m.Visitor)
	if err != nil {
		return fmt.Errorf("encode matchup %d: %w", m.GameID, err)
	}
	comparison, err := sonic.MarshalString(m.Comparison)
	if err != nil {
		return fmt.Errorf("encode matchup %d: %w", m.GameID, err)
	}

	_, err = a.db.ExecContext(ctx, a.db.Rebind(`
		INSERT INTO matchups (game_id, season, week, home_team_id, visitor_team_id, home, visitor, comparison, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (game_id) DO UPDATE SET
			season = excluded.season,
			week = excluded.week,
			home_team_id = excluded.home_team_id,
			visitor_team_id = excluded.visitor_team_id,
			home = excluded.home,
			visitor = excluded.visitor,
			comparison = excluded.comparison,
			updated_at = excluded.updated_at`),
		m.GameID, m.Season, m.Week, m.HomeTeamID, m.VisitorTeamID, home, visitor, comparison, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save matchup %d: %w", m.GameID, err)
	}
	return nil
}

// Matchup returns the stored matchup of a game, or nil when absent.
func (a *Aggregator) Matchup(ctx context.Context, gameID int64) (*Matchup, error) {
	var row matchupRow
	err := a.db.GetContext(ctx, &row, a.db.Rebind(`
		SELECT game_id, season, week, home_team_id, visitor_team_id, home, visitor, comparison, updated_at
		FROM matchups WHERE game_id = ?`), gameID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get matchup %d: %w", gameID, err)
	}

	m := &Matchup{
		GameID:        row.GameID,
		Season:        row.Season,
		Week:          row.Week,
		HomeTeamID:    row.HomeTeamID,
		VisitorTeamID: row.VisitorTeamID,
		UpdatedAt:     row.UpdatedAt,
	}
	if err := sonic.UnmarshalString(row.Home, &m.Home); err != nil {
		return nil, fmt.Errorf("decode matchup %d: %w", gameID, err)
	}
	if err := sonic.UnmarshalString(row.Visitor, &m.Visitor); err != nil {
		return nil, fmt.Errorf("decode matchup %d: %w", gameID, err)
	}
	if err := sonic.UnmarshalString(row.Comparison, &m.Comparison); err != nil {
		return nil, fmt.Errorf("decode matchup %d: %w", gameID, err)
	}
	return m, nil
}
