package cursor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/scoracle-pipeline/internal/cursor"
	"github.com/albapepper/scoracle-pipeline/internal/db/dbtest"
)

func strPtr(s string) *string { return &s }

func TestStore_GetMissingKey(t *testing.T) {
	store := cursor.NewStore(dbtest.SQLite(t))

	got, err := store.Get(context.Background(), "players")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_SetAndOverwrite(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	store := cursor.NewStore(dbtest.SQLite(t)).WithClock(func() time.Time { return now })

	require.NoError(t, store.Set(ctx, "plays_cursor_game_424150", strPtr("100"), map[string]any{"pages": 1}))
	now = now.Add(time.Second)
	require.NoError(t, store.Set(ctx, "plays_cursor_game_424150", strPtr("200"), map[string]any{"pages": 2}))

	rec, err := store.Record(ctx, "plays_cursor_game_424150")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.NotNil(t, rec.Cursor)
	assert.Equal(t, "200", *rec.Cursor)
	assert.Equal(t, now.UnixMilli(), rec.UpdatedAt)
	assert.EqualValues(t, 2, rec.Meta()["pages"])
}

func TestStore_NilCursorMarksEndOfStream(t *testing.T) {
	ctx := context.Background()
	store := cursor.NewStore(dbtest.SQLite(t))

	require.NoError(t, store.Set(ctx, "games_season_2024", strPtr("50"), nil))
	require.NoError(t, store.Set(ctx, "games_season_2024", nil, map[string]any{"complete": true}))

	got, err := store.Get(ctx, "games_season_2024")
	require.NoError(t, err)
	assert.Nil(t, got)

	rec, err := store.Record(ctx, "games_season_2024")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, true, rec.Meta()["complete"])
}

func TestStore_ResetAndList(t *testing.T) {
	ctx := context.Background()
	store := cursor.NewStore(dbtest.SQLite(t))

	require.NoError(t, store.Set(ctx, "odds_cursor_game_1", strPtr("a"), nil))
	require.NoError(t, store.Set(ctx, "odds_cursor_game_2", strPtr("b"), nil))
	require.NoError(t, store.Set(ctx, "plays_cursor_game_1", strPtr("c"), nil))

	records, err := store.List(ctx, "odds_")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "odds_cursor_game_1", records[0].Key)

	removed, err := store.Reset(ctx, "odds_cursor_game_1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = store.Reset(ctx, "odds_cursor_game_1")
	require.NoError(t, err)
	assert.False(t, removed)

	got, err := store.Get(ctx, "odds_cursor_game_1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_ListPrefixIsLiteral(t *testing.T) {
	ctx := context.Background()
	store := cursor.NewStore(dbtest.SQLite(t))

	require.NoError(t, store.Set(ctx, "plays_cursor_game_1", strPtr("a"), nil))
	require.NoError(t, store.Set(ctx, "playsXcursorYgame_2", strPtr("b"), nil))
	require.NoError(t, store.Set(ctx, "odds%_cursor", strPtr("c"), nil))
	require.NoError(t, store.Set(ctx, "odds_cursor_game_3", strPtr("d"), nil))

	records, err := store.List(ctx, "plays_cursor_")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "plays_cursor_game_1", records[0].Key)

	records, err = store.List(ctx, "odds%")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "odds%_cursor", records[0].Key)
}
