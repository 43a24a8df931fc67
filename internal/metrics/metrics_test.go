package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/scoracle-pipeline/internal/provider"
)

func TestMerge_ProviderWins(t *testing.T) {
	got := Merge(map[string]float64{"a": 1}, map[string]float64{"a": 2, "b": 3}, nil)
	assert.Equal(t, map[string]float64{"a": 1, "b": 3}, got)
}

func TestMerge_SpecificOnlyFillsGaps(t *testing.T) {
	provider := map[string]float64{"passer_rating": 101.2}
	computed := map[string]float64{"passing_yards": 300}
	specific := map[string]float64{"passer_rating": 118.75, "completion_pct": 66.7}

	got := Merge(provider, computed, specific)
	assert.Equal(t, 101.2, got["passer_rating"])
	assert.Equal(t, 66.7, got["completion_pct"])
	assert.Equal(t, 300.0, got["passing_yards"])
	assert.Len(t, provider, 1, "inputs are not modified")
}

func TestPasserRating(t *testing.T) {
	assert.InDelta(t, 118.75, PasserRating(30, 20, 300, 3, 1), 1e-9)

	// Every component saturates at 2.375.
	assert.InDelta(t, 158.333, PasserRating(10, 10, 200, 5, 0), 1e-3)

	// And bottoms out at zero.
	assert.InDelta(t, 0, PasserRating(10, 0, 0, 0, 5), 1e-9)
	assert.Zero(t, PasserRating(0, 0, 0, 0, 0))
}

func TestAggregate(t *testing.T) {
	c := Aggregate([]map[string]float64{
		{"passing_attempts": 30, "passing_completions": 20, "passing_yards": 300, "passing_touchdowns": 3, "passing_interceptions": 1},
		{"passing_attempts": 30, "passing_completions": 20, "passing_yards": 300, "passing_touchdowns": 3, "passing_interceptions": 1, "rushing_yards": 12},
	})

	assert.Equal(t, 2, c.GameCount)
	assert.Equal(t, 600.0, c.Totals["passing_yards"])
	assert.Equal(t, 300.0, c.Averages["passing_yards"])
	assert.Equal(t, 6.0, c.Averages["rushing_yards"])
	assert.InDelta(t, 118.75, c.Specific["passer_rating"], 1e-9)
	assert.InDelta(t, 66.667, c.Specific["completion_pct"], 1e-3)
	assert.InDelta(t, 10, c.Specific["yards_per_attempt"], 1e-9)
	assert.NotContains(t, c.Specific, "yards_per_carry", "no carries, no ratio")

	flat := c.Flat()
	assert.Equal(t, 600.0, flat["passing_yards"])
	assert.Equal(t, 300.0, flat["passing_yards_per_game"])
}

func TestAggregate_NoRows(t *testing.T) {
	c := Aggregate(nil)
	assert.Zero(t, c.GameCount)
	assert.Empty(t, c.Totals)
	assert.Empty(t, c.Specific)
}

func TestDocKey(t *testing.T) {
	k := DocKey{EntityType: EntityPlayer, EntityID: 7, Season: 2024, Scope: WeekScope(3)}
	assert.Equal(t, "player:7:2024:week_3", k.String())

	parsed, err := ParseDocKey(k.String())
	require.NoError(t, err)
	assert.Equal(t, k, parsed)

	week, ok := ScopeWeek(parsed.Scope)
	assert.True(t, ok)
	assert.Equal(t, 3, week)

	game, ok := ScopeGame(GameScope(424150))
	assert.True(t, ok)
	assert.EqualValues(t, 424150, game)
	_, ok = ScopeGame(ScopeSeason)
	assert.False(t, ok)

	for _, bad := range []string{"", "coach:1:2024:season", "player:x:2024:season", "player:1:2024"} {
		_, err := ParseDocKey(bad)
		assert.ErrorIs(t, err, ErrInvalidKey, bad)
	}
}

func TestAffectedKeys(t *testing.T) {
	season, week := 2024, 3
	player, team, game := int64(7), int64(1), int64(100)
	keys := provider.Keys{Season: &season, Week: &week, PlayerID: &player, TeamID: &team, GameID: &game}

	names := func(ks []DocKey) []string {
		out := make([]string, 0, len(ks))
		for _, k := range ks {
			out = append(out, k.String())
		}
		return out
	}

	assert.Equal(t, []string{"player:7:2024:season", "player:7:2024:week_3", "player:7:2024:game_100"},
		names(AffectedKeys(provider.PlayerGameStat, keys)))
	assert.Equal(t, []string{"team:1:2024:season", "team:1:2024:week_3", "team:1:2024:game_100"},
		names(AffectedKeys(provider.TeamGameStat, keys)))
	assert.Equal(t, []string{"player:7:2024:week_3"}, names(AffectedKeys(provider.AdvancedPassing, keys)))

	post := keys
	post.Postseason = true
	assert.Equal(t, []string{"player:7:2024:game_100"}, names(AffectedKeys(provider.PlayerGameStat, post)))
	assert.Empty(t, AffectedKeys(provider.SeasonStat, post))
	assert.Empty(t, AffectedKeys(provider.Play, keys))
}
