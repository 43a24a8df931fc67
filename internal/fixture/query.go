package fixture

import (
	"context"
	"fmt"
	"strings"

	"github.com/albapepper/scoracle-pipeline/internal/cursor"
	"github.com/albapepper/scoracle-pipeline/internal/provider"
	"github.com/albapepper/scoracle-pipeline/internal/seed"
)

// GetPending returns (game, feed) pairs ready for a post-game sync, oldest
// game first, capped at limit games. A pair is pending when the game is
// final and its feed cursor is absent, still mid-stream, or older than the
// game row.
func GetPending(ctx context.Context, raw *seed.Store, cursors *cursor.Store, season int, feeds []provider.EntityType, limit int) ([]Pending, int, error) {
	if limit <= 0 {
		limit = defaultMaxGames
	}
	if len(feeds) == 0 {
		feeds = DefaultFeeds
	}

	rows, err := raw.List(ctx, provider.Game, seed.Query{Season: season})
	if err != nil {
		return nil, 0, fmt.Errorf("get pending games: %w", err)
	}

	var (
		pending []Pending
		games   int
	)
	for _, row := range rows {
		if row.GameID == nil || !isFinal(row) {
			continue
		}
		if games >= limit {
			break
		}

		found := false
		for _, feed := range feeds {
			key := provider.JobKey(feed, provider.Filters{GameID: *row.GameID})
			rec, err := cursors.Record(ctx, key)
			if err != nil {
				return nil, games, err
			}
			if rec != nil && rec.Cursor == nil && rec.UpdatedAt >= row.UpdatedAt {
				continue
			}
			p := Pending{GameID: *row.GameID, Feed: feed}
			if row.Season != nil {
				p.Season = *row.Season
			}
			if row.Week != nil {
				p.Week = *row.Week
			}
			pending = append(pending, p)
			found = true
		}
		if found {
			games++
		}
	}
	return pending, games, nil
}

func isFinal(row seed.Row) bool {
	fields, err := row.Fields()
	if err != nil {
		return false
	}
	status, _ := fields["status"].(string)
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(status)), "final")
}
