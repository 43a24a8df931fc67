package bdl

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/albapepper/scoracle-pipeline/internal/provider"
)

// Resource describes one BallDontLie list endpoint and the query names it
// uses for each filter. An empty name means the endpoint ignores that filter.
type Resource struct {
	Path       string
	Season     string
	Week       string
	Team       string
	Game       string
	Player     string
	Vendor     string
	Postseason bool
	// AlwaysWeek sends week=0 when unset (advanced stats use 0 for the
	// whole season).
	AlwaysWeek bool
}

// Resources maps every entity type to its endpoint.
var Resources = map[provider.EntityType]Resource{
	provider.Team:              {Path: "/teams"},
	provider.Player:            {Path: "/players", Team: "team_ids[]"},
	provider.Game:              {Path: "/games", Season: "seasons[]", Week: "weeks[]", Team: "team_ids[]", Postseason: true},
	provider.SeasonStat:        {Path: "/season_stats", Season: "season", Team: "team_id", Player: "player_ids[]", Postseason: true},
	provider.TeamSeasonStat:    {Path: "/team_season_stats", Season: "season", Team: "team_ids[]", Postseason: true},
	provider.TeamGameStat:      {Path: "/team_stats", Season: "seasons[]", Team: "team_ids[]", Game: "game_ids[]"},
	provider.PlayerGameStat:    {Path: "/stats", Season: "seasons[]", Team: "team_ids[]", Game: "game_ids[]", Player: "player_ids[]"},
	provider.AdvancedRushing:   {Path: "/advanced_stats/rushing", Season: "season", Week: "week", Player: "player_id", Postseason: true, AlwaysWeek: true},
	provider.AdvancedPassing:   {Path: "/advanced_stats/passing", Season: "season", Week: "week", Player: "player_id", Postseason: true, AlwaysWeek: true},
	provider.AdvancedReceiving: {Path: "/advanced_stats/receiving", Season: "season", Week: "week", Player: "player_id", Postseason: true, AlwaysWeek: true},
	provider.Play:              {Path: "/plays", Game: "game_id"},
	provider.Odds:              {Path: "/odds", Game: "game_ids[]", Vendor: "vendors[]"},
	provider.PlayerProp:        {Path: "/odds/player_props", Game: "game_id", Player: "player_id", Vendor: "vendors[]"},
	provider.Injury:            {Path: "/player_injuries", Team: "team_ids[]", Player: "player_ids[]"},
}

// ResourceFor returns the endpoint for e.
func ResourceFor(e provider.EntityType) (Resource, error) {
	r, ok := Resources[e]
	if !ok {
		return Resource{}, fmt.Errorf("no provider resource for entity %q", e)
	}
	return r, nil
}

// Params renders f as query parameters. Per-game resources require a game id.
func (r Resource) Params(e provider.EntityType, f provider.Filters) (url.Values, error) {
	if e.PerGame() && f.GameID == 0 {
		return nil, fmt.Errorf("%s requires a game id", e)
	}

	params := url.Values{}
	if r.Season != "" && f.Season != 0 {
		params.Set(r.Season, strconv.Itoa(f.Season))
	}
	if r.Week != "" && (f.Week != 0 || r.AlwaysWeek) {
		params.Set(r.Week, strconv.Itoa(f.Week))
	}
	if r.Team != "" && f.TeamID != 0 {
		params.Set(r.Team, strconv.FormatInt(f.TeamID, 10))
	}
	if r.Game != "" && f.GameID != 0 {
		params.Set(r.Game, strconv.FormatInt(f.GameID, 10))
	}
	if r.Player != "" && f.PlayerID != 0 {
		params.Set(r.Player, strconv.FormatInt(f.PlayerID, 10))
	}
	if r.Vendor != "" {
		for _, v := range f.Vendors {
			params.Add(r.Vendor, v)
		}
	}
	if r.Postseason && f.Postseason {
		params.Set("postseason", "true")
	}
	return params, nil
}
