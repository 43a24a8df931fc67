// Package provider defines the entity types the pipeline ingests, the
// filters that scope a sync, and how provider items map onto natural keys.
package provider

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// EntityType names one raw source collection.
type EntityType string

const (
	Team              EntityType = "team"
	Player            EntityType = "player"
	Game              EntityType = "game"
	SeasonStat        EntityType = "season_stat"
	TeamSeasonStat    EntityType = "team_season_stat"
	TeamGameStat      EntityType = "team_game_stat"
	PlayerGameStat    EntityType = "player_game_stat"
	AdvancedRushing   EntityType = "advanced_rushing"
	AdvancedPassing   EntityType = "advanced_passing"
	AdvancedReceiving EntityType = "advanced_receiving"
	Play              EntityType = "play"
	Odds              EntityType = "odds"
	PlayerProp        EntityType = "player_prop"
	Injury            EntityType = "injury"
)

var tables = map[EntityType]string{
	Team:              "raw_teams",
	Player:            "raw_players",
	Game:              "raw_games",
	SeasonStat:        "raw_season_stats",
	TeamSeasonStat:    "raw_team_season_stats",
	TeamGameStat:      "raw_team_game_stats",
	PlayerGameStat:    "raw_player_game_stats",
	AdvancedRushing:   "raw_advanced_rushing",
	AdvancedPassing:   "raw_advanced_passing",
	AdvancedReceiving: "raw_advanced_receiving",
	Play:              "raw_plays",
	Odds:              "raw_odds",
	PlayerProp:        "raw_player_props",
	Injury:            "raw_injuries",
}

// jobPrefixes holds the plural job-key stems used for cursor keys.
var jobPrefixes = map[EntityType]string{
	Team:              "teams",
	Player:            "players",
	Game:              "games",
	SeasonStat:        "season_stats",
	TeamSeasonStat:    "team_season_stats",
	TeamGameStat:      "team_game_stats",
	PlayerGameStat:    "player_game_stats",
	AdvancedRushing:   "advanced_rushing",
	AdvancedPassing:   "advanced_passing",
	AdvancedReceiving: "advanced_receiving",
	Play:              "plays",
	Odds:              "odds",
	PlayerProp:        "player_props",
	Injury:            "injuries",
}

// ParseEntityType validates a user-supplied entity name.
func ParseEntityType(s string) (EntityType, error) {
	e := EntityType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := tables[e]; !ok {
		return "", fmt.Errorf("unknown entity type %q", s)
	}
	return e, nil
}

// EntityTypes lists every known entity type in a stable order.
func EntityTypes() []EntityType {
	out := make([]EntityType, 0, len(tables))
	for e := range tables {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Table returns the raw table backing e.
func (e EntityType) Table() string { return tables[e] }

// PerGame reports whether e is fetched one game at a time.
func (e EntityType) PerGame() bool {
	return e == Play || e == Odds || e == PlayerProp
}

// IsAdvanced reports whether e is one of the advanced stat feeds.
func (e EntityType) IsAdvanced() bool {
	return e == AdvancedRushing || e == AdvancedPassing || e == AdvancedReceiving
}

// --------------------------------------------------------------------------
// Filters
// --------------------------------------------------------------------------

// Filters narrows a sync to a subset of a resource. Zero values mean unset.
type Filters struct {
	Season     int      `json:"season,omitempty"`
	Week       int      `json:"week,omitempty"`
	Postseason bool     `json:"postseason,omitempty"`
	TeamID     int64    `json:"team_id,omitempty"`
	GameID     int64    `json:"game_id,omitempty"`
	PlayerID   int64    `json:"player_id,omitempty"`
	Vendors    []string `json:"vendors,omitempty"`
}

// JobKey derives the cursor key for a sync of e with f. Only stable filter
// values participate, so the same logical job always maps to the same key.
func JobKey(e EntityType, f Filters) string {
	prefix := jobPrefixes[e]
	if prefix == "" {
		prefix = string(e)
	}
	if e.PerGame() {
		return prefix + "_cursor_game_" + strconv.FormatInt(f.GameID, 10)
	}

	var b strings.Builder
	b.WriteString(prefix)
	if f.Season != 0 {
		b.WriteString("_season_" + strconv.Itoa(f.Season))
	}
	if e.IsAdvanced() {
		if f.Week > 0 {
			b.WriteString("_scope_week_" + strconv.Itoa(f.Week))
		} else {
			b.WriteString("_scope_season")
		}
	} else if f.Week != 0 {
		b.WriteString("_week_" + strconv.Itoa(f.Week))
	}
	if f.TeamID != 0 {
		b.WriteString("_team_" + strconv.FormatInt(f.TeamID, 10))
	}
	if f.GameID != 0 {
		b.WriteString("_game_" + strconv.FormatInt(f.GameID, 10))
	}
	if f.PlayerID != 0 {
		b.WriteString("_player_" + strconv.FormatInt(f.PlayerID, 10))
	}
	if f.Postseason {
		b.WriteString("_postseason")
	}
	if len(f.Vendors) > 0 {
		vendors := append([]string(nil), f.Vendors...)
		sort.Strings(vendors)
		b.WriteString("_vendors_" + strings.Join(vendors, "-"))
	}
	return b.String()
}
