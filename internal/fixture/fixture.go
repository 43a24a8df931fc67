// Package fixture finds finished games whose per-game feeds were never
// ingested to the end, or were last ingested before the game changed, and
// backfills them. It runs after each scheduled refresh so play-by-play lands
// once a game goes final.
package fixture

import (
	"fmt"
	"time"

	"github.com/albapepper/scoracle-pipeline/internal/provider"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const defaultMaxGames = 50

// DefaultFeeds are the per-game feeds ingested once a game is final.
var DefaultFeeds = []provider.EntityType{provider.Play}

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Pending is one (game, feed) pair that still needs a sync.
type Pending struct {
	GameID int64               `json:"game_id"`
	Season int                 `json:"season"`
	Week   int                 `json:"week"`
	Feed   provider.EntityType `json:"feed"`
}

// FeedResult is the outcome of one feed's backfill.
type FeedResult struct {
	Feed      provider.EntityType `json:"feed"`
	Games     int                 `json:"games"`
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
	Upserted  int                 `json:"upserted"`
}

// SchedulerResult tracks the outcome of a full post-game run.
type SchedulerResult struct {
	GamesFound int           `json:"games_found"`
	Pending    int           `json:"pending"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Feeds      []FeedResult  `json:"feeds,omitempty"`
	Duration   time.Duration `json:"duration"`
	Errors     []string      `json:"errors,omitempty"`
}

// Summary returns a human-readable summary.
func (r *SchedulerResult) Summary() string {
	return fmt.Sprintf(
		"games=%d pending=%d succeeded=%d failed=%d dur=%s",
		r.GamesFound, r.Pending, r.Succeeded, r.Failed,
		r.Duration.Round(time.Millisecond))
}
