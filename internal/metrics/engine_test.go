package metrics_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/scoracle-pipeline/internal/db/dbtest"
	"github.com/albapepper/scoracle-pipeline/internal/logging"
	"github.com/albapepper/scoracle-pipeline/internal/metrics"
	"github.com/albapepper/scoracle-pipeline/internal/provider"
	"github.com/albapepper/scoracle-pipeline/internal/seed"
)

type fixture struct {
	raw    *seed.Store
	engine *metrics.Engine
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	d := dbtest.SQLite(t)
	raw := seed.NewStore(d, 500)
	return fixture{raw: raw, engine: metrics.NewEngine(raw, metrics.NewStore(d), logging.NewNop())}
}

func (f fixture) upsert(t *testing.T, e provider.EntityType, items ...string) []seed.Record {
	t.Helper()
	records := make([]seed.Record, 0, len(items))
	for _, it := range items {
		rec, err := seed.Decode(e, json.RawMessage(it))
		require.NoError(t, err)
		records = append(records, rec)
	}
	_, err := f.raw.Upsert(context.Background(), e, records)
	require.NoError(t, err)
	return records
}

func passingGame(gameID, week int) string {
	return fmt.Sprintf(`{"player":{"id":7},"team":{"id":1},"game":{"id":%d,"season":2024,"week":%d},
		"passing_attempts":30,"passing_completions":20,"passing_yards":300,
		"passing_touchdowns":3,"passing_interceptions":1}`, gameID, week)
}

func TestHandleUpserted_MergesBothSources(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var written []string
	f.engine.AfterWrite(func(_ context.Context, doc metrics.Document) error {
		written = append(written, doc.Key())
		return nil
	})

	games := f.upsert(t, provider.PlayerGameStat, passingGame(100, 1), passingGame(101, 2))
	require.NoError(t, f.engine.HandleUpserted(ctx, provider.PlayerGameStat, games))

	stats := f.upsert(t, provider.SeasonStat,
		`{"player":{"id":7},"season":2024,"postseason":false,"passing_yards":999,"games_played":2}`)
	require.NoError(t, f.engine.HandleUpserted(ctx, provider.SeasonStat, stats))

	doc, err := f.engine.Store().Get(ctx, metrics.DocKey{EntityType: metrics.EntityPlayer, EntityID: 7, Season: 2024, Scope: metrics.ScopeSeason})
	require.NoError(t, err)
	require.NotNil(t, doc)

	assert.Equal(t, 2, doc.GameCount)
	assert.Equal(t, 999.0, doc.Metrics["passing_yards"], "provider value wins")
	assert.Equal(t, 60.0, doc.Metrics["passing_attempts"], "computed fills gaps")
	assert.Equal(t, 30.0, doc.Metrics["passing_attempts_per_game"])
	assert.Equal(t, 2.0, doc.Metrics["games_played"])
	assert.InDelta(t, 118.75, doc.Metrics["passer_rating"], 1e-9)
	assert.Equal(t, 600.0, doc.Sources.Computed.Totals["passing_yards"])
	assert.Equal(t, 999.0, doc.Sources.Provider["passing_yards"])

	assert.Equal(t, metrics.MergeSources(doc.Sources), doc.Metrics, "metrics are reproducible from sources")

	all, err := f.engine.Store().ListEntity(ctx, metrics.EntityPlayer, 7, 2024)
	require.NoError(t, err)
	scopes := make([]string, 0, len(all))
	for _, d := range all {
		scopes = append(scopes, d.Scope)
	}
	assert.ElementsMatch(t, []string{"season", "week_1", "week_2", "game_100", "game_101"}, scopes)

	assert.Contains(t, written, "player:7:2024:season")
	assert.Contains(t, written, "player:7:2024:game_101")
}

func TestRefresh_UnchangedSourcesDoNotRewrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.upsert(t, provider.PlayerGameStat, passingGame(100, 1))

	key := metrics.DocKey{EntityType: metrics.EntityPlayer, EntityID: 7, Season: 2024, Scope: metrics.ScopeSeason}
	changed, err := f.engine.Refresh(ctx, key)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = f.engine.Refresh(ctx, key)
	require.NoError(t, err)
	assert.False(t, changed)

	missing := metrics.DocKey{EntityType: metrics.EntityPlayer, EntityID: 8, Season: 2024, Scope: metrics.ScopeSeason}
	changed, err = f.engine.Refresh(ctx, missing)
	require.NoError(t, err)
	assert.False(t, changed, "no sources, no document")
	doc, err := f.engine.Store().Get(ctx, missing)
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestTeamDocumentAndAdvancedFeeds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.upsert(t, provider.TeamGameStat,
		`{"team":{"id":1},"game":{"id":100,"season":2024,"week":1},"total_yards":350,"turnovers":1}`,
		`{"team":{"id":1},"game":{"id":101,"season":2024,"week":2},"total_yards":410,"turnovers":3}`)
	f.upsert(t, provider.AdvancedRushing,
		`{"player":{"id":7},"season":2024,"week":0,"postseason":false,"rush_yards_over_expected":45.5}`)

	res, err := f.engine.RebuildSeason(ctx, 2024)
	require.NoError(t, err)
	// Team season, two weeks and two games, plus the player season.
	assert.Equal(t, 6, res.Documents)
	assert.Equal(t, 6, res.Changed)

	team, err := f.engine.Store().Get(ctx, metrics.DocKey{EntityType: metrics.EntityTeam, EntityID: 1, Season: 2024})
	require.NoError(t, err)
	require.NotNil(t, team)
	assert.Equal(t, 760.0, team.Metrics["total_yards"])
	assert.Equal(t, 380.0, team.Metrics["total_yards_per_game"])
	assert.Equal(t, 2.0, team.Metrics["turnovers_per_game"])

	player, err := f.engine.Store().Get(ctx, metrics.DocKey{EntityType: metrics.EntityPlayer, EntityID: 7, Season: 2024})
	require.NoError(t, err)
	require.NotNil(t, player)
	assert.Equal(t, 45.5, player.Metrics["adv_rushing_rush_yards_over_expected"])
	assert.Zero(t, player.GameCount)
}

func TestRemergeSeason(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.upsert(t, provider.PlayerGameStat, passingGame(100, 1))

	_, err := f.engine.RebuildSeason(ctx, 2024)
	require.NoError(t, err)

	res, err := f.engine.RemergeSeason(ctx, 2024)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Documents)
	assert.Zero(t, res.Changed, "stored metrics already match their sources")
	assert.Zero(t, res.Failed)

	empty, err := f.engine.RemergeSeason(ctx, 2023)
	require.NoError(t, err)
	assert.Zero(t, empty.Documents)
}

func TestChangedSince(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.upsert(t, provider.PlayerGameStat, passingGame(100, 1))
	_, err := f.engine.RebuildSeason(ctx, 2024)
	require.NoError(t, err)

	docs, err := f.engine.Store().ChangedSince(ctx, 0, "", 2)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	last := docs[1]
	rest, err := f.engine.Store().ChangedSince(ctx, last.UpdatedAt, last.Key(), 10)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}
