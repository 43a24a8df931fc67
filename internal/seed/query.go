package seed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/albapepper/scoracle-pipeline/internal/provider"
)

// Row is a stored raw source record.
type Row struct {
	NaturalKey string `db:"natural_key"`
	Season     *int   `db:"season"`
	Week       *int   `db:"week"`
	Postseason bool   `db:"postseason"`
	GameID     *int64 `db:"game_id"`
	TeamID     *int64 `db:"team_id"`
	PlayerID   *int64 `db:"player_id"`
	Payload    string `db:"payload"`
	UpdatedAt  int64  `db:"updated_at"`
}

// Fields decodes the stored payload.
func (r Row) Fields() (map[string]any, error) {
	fields := map[string]any{}
	if err := sonic.UnmarshalString(r.Payload, &fields); err != nil {
		return nil, fmt.Errorf("decode payload %s: %w", r.NaturalKey, err)
	}
	return fields, nil
}

// Query filters raw rows. Zero values and nil pointers are ignored.
type Query struct {
	Season     int
	Week       *int
	Postseason *bool
	GameID     int64
	TeamID     int64
	PlayerID   int64
}

const selectColumns = "natural_key, season, week, postseason, game_id, team_id, player_id, payload, updated_at"

// List returns rows of e matching q, ordered by natural key.
func (s *Store) List(ctx context.Context, e provider.EntityType, q Query) ([]Row, error) {
	table := e.Table()
	if table == "" {
		return nil, fmt.Errorf("list: unknown entity type %q", e)
	}

	var (
		where []string
		args  []any
	)
	if q.Season != 0 {
		where, args = append(where, "season = ?"), append(args, q.Season)
	}
	if q.Week != nil {
		where, args = append(where, "week = ?"), append(args, *q.Week)
	}
	if q.Postseason != nil {
		where, args = append(where, "postseason = ?"), append(args, *q.Postseason)
	}
	if q.GameID != 0 {
		where, args = append(where, "game_id = ?"), append(args, q.GameID)
	}
	if q.TeamID != 0 {
		where, args = append(where, "team_id = ?"), append(args, q.TeamID)
	}
	if q.PlayerID != 0 {
		where, args = append(where, "player_id = ?"), append(args, q.PlayerID)
	}

	query := "SELECT " + selectColumns + " FROM " + table
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY natural_key"

	rows := []Row{}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	return rows, nil
}

// Get returns one row by natural key, or nil when absent.
func (s *Store) Get(ctx context.Context, e provider.EntityType, naturalKey string) (*Row, error) {
	table := e.Table()
	if table == "" {
		return nil, fmt.Errorf("get: unknown entity type %q", e)
	}

	var row Row
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		"SELECT "+selectColumns+" FROM "+table+" WHERE natural_key = ?"), naturalKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", table, naturalKey, err)
	}
	return &row, nil
}

// ChangedSince returns up to limit rows written after the (updatedAt, key)
// watermark, oldest first.
func (s *Store) ChangedSince(ctx context.Context, e provider.EntityType, updatedAt int64, key string, limit int) ([]Row, error) {
	table := e.Table()
	if table == "" {
		return nil, fmt.Errorf("changed since: unknown entity type %q", e)
	}

	rows := []Row{}
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT `+selectColumns+` FROM `+table+`
		WHERE updated_at > ? OR (updated_at = ? AND natural_key > ?)
		ORDER BY updated_at, natural_key
		LIMIT ?`), updatedAt, updatedAt, key, limit)
	if err != nil {
		return nil, fmt.Errorf("changed since %s: %w", table, err)
	}
	return rows, nil
}

// GameIDs returns the ids of stored games for a season, optionally limited
// to one week.
func (s *Store) GameIDs(ctx context.Context, season, week int) ([]int64, error) {
	q := Query{Season: season}
	if week > 0 {
		q.Week = &week
	}
	rows, err := s.List(ctx, provider.Game, q)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		if r.GameID != nil {
			ids = append(ids, *r.GameID)
		}
	}
	return ids, nil
}

// TeamIDs returns the ids of every stored team.
func (s *Store) TeamIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.List(ctx, provider.Team, Query{})
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		if r.TeamID != nil {
			ids = append(ids, *r.TeamID)
		}
	}
	return ids, nil
}
