package app_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/scoracle-pipeline/internal/app"
	"github.com/albapepper/scoracle-pipeline/internal/config"
	"github.com/albapepper/scoracle-pipeline/internal/db/dbtest"
	"github.com/albapepper/scoracle-pipeline/internal/jobs"
	"github.com/albapepper/scoracle-pipeline/internal/logging"
	"github.com/albapepper/scoracle-pipeline/internal/metrics"
	"github.com/albapepper/scoracle-pipeline/internal/provider"
	"github.com/albapepper/scoracle-pipeline/internal/provider/bdl"
)

type staticFetcher map[provider.EntityType][]string

func (s staticFetcher) FetchPage(_ context.Context, e provider.EntityType, _ provider.Filters, _ *string) (*bdl.Page, error) {
	page := &bdl.Page{}
	for _, it := range s[e] {
		page.Items = append(page.Items, json.RawMessage(it))
	}
	return page, nil
}

func testConfig() *config.Config {
	return &config.Config{
		SyncBatchSize:        500,
		SyncWorkers:          2,
		SyncLockBackend:      "memory",
		SyncLockTTL:          time.Minute,
		WebhookTimeout:       time.Second,
		WebhookConcurrency:   2,
		JobRetention:         time.Minute,
		NotifierPollInterval: time.Second,
		RefreshSeason:        2024,
	}
}

func waitDone(t *testing.T, a *app.App, id string) jobs.Info {
	t.Helper()
	sub, err := a.Jobs.Subscribe(id)
	require.NoError(t, err)
	for range sub.Events() {
	}
	info, err := a.Jobs.Get(id)
	require.NoError(t, err)
	return info
}

func TestWire_SyncMergesDocuments(t *testing.T) {
	ctx := context.Background()
	fetcher := staticFetcher{
		provider.SeasonStat: {`{"player":{"id":7},"season":2024,"postseason":false,"passing_yards":4100,"games_played":17}`},
	}
	a, err := app.Wire(ctx, testConfig(), dbtest.SQLite(t), fetcher, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	req := app.SyncRequest{Entity: "season_stat", Season: 2024}
	require.NoError(t, a.Validate.Struct(req))
	fn, err := a.SyncJob(req)
	require.NoError(t, err)

	info := waitDone(t, a, a.Jobs.Start(app.KindSync, req, fn).ID)
	require.Equal(t, jobs.StatusCompleted, info.Status, info.Error)

	doc, err := a.Docs.Get(ctx, metrics.DocKey{EntityType: metrics.EntityPlayer, EntityID: 7, Season: 2024, Scope: metrics.ScopeSeason})
	require.NoError(t, err)
	require.NotNil(t, doc, "upsert hook merges the document")
	assert.Equal(t, 4100.0, doc.Metrics["passing_yards"])
}

func TestSyncJob_RejectsUnknownEntity(t *testing.T) {
	a, err := app.Wire(context.Background(), testConfig(), dbtest.SQLite(t), staticFetcher{}, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	_, err = a.SyncJob(app.SyncRequest{Entity: "weather"})
	assert.Error(t, err)

	assert.Error(t, a.Validate.Struct(app.BackfillRequest{Entity: "play", Season: 1990}))
}

func TestBackfillJob_NeedsStoredGames(t *testing.T) {
	a, err := app.Wire(context.Background(), testConfig(), dbtest.SQLite(t), staticFetcher{}, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	fn, err := a.BackfillJob(app.BackfillRequest{Entity: "play", Season: 2024})
	require.NoError(t, err)
	info := waitDone(t, a, a.Jobs.Start(app.KindBackfill, nil, fn).ID)
	assert.Equal(t, jobs.StatusFailed, info.Status)
	assert.Contains(t, info.Error, "no stored games")
}
