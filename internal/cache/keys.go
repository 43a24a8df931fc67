package cache

import (
	"context"
	"fmt"
	"strconv"

	"github.com/albapepper/scoracle-pipeline/internal/listener"
	"github.com/albapepper/scoracle-pipeline/internal/metrics"
)

// Key builders shared by handlers and invalidation.

func DocumentKey(entityType string, entityID int64) string {
	return fmt.Sprintf("metrics:%s:%d:", entityType, entityID)
}

func StandingsKey(season int) string {
	return "standings:" + strconv.Itoa(season)
}

// MatchupsPrefix covers every cached matchup.
const MatchupsPrefix = "matchups:"

func MatchupKey(gameID int64) string {
	return MatchupsPrefix + strconv.FormatInt(gameID, 10)
}

// InvalidateChange drops cached responses made stale by c. Team document
// changes also stale standings and matchups for that season.
func (c *Cache) InvalidateChange(_ context.Context, ch listener.Change) {
	if ch.Collection != listener.CollectionMetrics {
		return
	}
	key, err := metrics.ParseDocKey(ch.Key)
	if err != nil {
		return
	}
	prefixes := []string{DocumentKey(key.EntityType, key.EntityID)}
	if key.EntityType == metrics.EntityTeam {
		prefixes = append(prefixes, StandingsKey(key.Season), MatchupsPrefix)
	}
	c.Invalidate(prefixes...)
}
