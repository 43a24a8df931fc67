package maintenance_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/scoracle-pipeline/internal/cursor"
	"github.com/albapepper/scoracle-pipeline/internal/db/dbtest"
	"github.com/albapepper/scoracle-pipeline/internal/logging"
	"github.com/albapepper/scoracle-pipeline/internal/maintenance"
	"github.com/albapepper/scoracle-pipeline/internal/metrics"
	"github.com/albapepper/scoracle-pipeline/internal/provider"
	"github.com/albapepper/scoracle-pipeline/internal/provider/bdl"
	"github.com/albapepper/scoracle-pipeline/internal/seed"
	"github.com/albapepper/scoracle-pipeline/internal/standings"
	"github.com/albapepper/scoracle-pipeline/internal/syncer"
)

// feedFetcher serves one single-page response per entity.
type feedFetcher struct {
	mu    sync.Mutex
	items map[provider.EntityType][]string
	fail  map[provider.EntityType]error
	calls []provider.EntityType
}

func (f *feedFetcher) FetchPage(_ context.Context, e provider.EntityType, _ provider.Filters, _ *string) (*bdl.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, e)
	if err := f.fail[e]; err != nil {
		return nil, err
	}
	page := &bdl.Page{}
	for _, it := range f.items[e] {
		page.Items = append(page.Items, json.RawMessage(it))
	}
	return page, nil
}

func finalGame(id, home, visitor, homeScore, visitorScore int) string {
	return fmt.Sprintf(
		`{"id":%d,"season":2024,"week":1,"status":"Final","home_team":{"id":%d},"visitor_team":{"id":%d},"home_team_score":%d,"visitor_team_score":%d}`,
		id, home, visitor, homeScore, visitorScore)
}

func newService(t *testing.T, f *feedFetcher) *maintenance.Service {
	t.Helper()
	d := dbtest.SQLite(t)
	logger := logging.NewNop()
	raw := seed.NewStore(d, 500)
	docs := metrics.NewStore(d)
	engine := syncer.NewEngine(f, raw, cursor.NewStore(d), nil, 0, logger)
	agg := standings.NewAggregator(d, raw, docs, nil, logger)
	return maintenance.New(engine, metrics.NewEngine(raw, docs, logger), agg,
		maintenance.Config{RefreshSeason: 2024}, logger)
}

func TestRefresh_ContinuesPastFailedFeed(t *testing.T) {
	f := &feedFetcher{
		items: map[provider.EntityType][]string{
			provider.Game: {finalGame(1, 10, 20, 24, 17), finalGame(2, 20, 30, 13, 27)},
		},
		fail: map[provider.EntityType]error{
			provider.SeasonStat: errors.Wrap(bdl.ErrTransient, "status 503"),
		},
	}
	svc := newService(t, f)

	res, err := svc.Refresh(context.Background(), 2024)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Feeds, len(maintenance.RefreshFeeds))
	require.Len(t, f.calls, len(maintenance.RefreshFeeds)+2)
	assert.Equal(t, maintenance.RefreshFeeds, f.calls[:len(maintenance.RefreshFeeds)], "every feed is attempted once")
	assert.Equal(t, []provider.EntityType{provider.Play, provider.Play}, f.calls[len(maintenance.RefreshFeeds):],
		"plays are backfilled for both final games")
	require.NotNil(t, res.Postgame)
	assert.Equal(t, 2, res.Postgame.Succeeded)

	for _, fr := range res.Feeds {
		switch fr.Entity {
		case provider.Game:
			assert.Equal(t, 2, fr.Upserted)
		case provider.SeasonStat:
			assert.Contains(t, fr.Error, "status 503")
		default:
			assert.Empty(t, fr.Error, fr.Entity)
		}
	}
	assert.Equal(t, 3, res.Standings)
	assert.Equal(t, 2, res.Matchups)
}

func TestStart_RejectsBadSchedule(t *testing.T) {
	d := dbtest.SQLite(t)
	logger := logging.NewNop()
	raw := seed.NewStore(d, 500)
	svc := maintenance.New(
		syncer.NewEngine(&feedFetcher{}, raw, cursor.NewStore(d), nil, 0, logger),
		metrics.NewEngine(raw, metrics.NewStore(d), logger),
		standings.NewAggregator(d, raw, metrics.NewStore(d), nil, logger),
		maintenance.Config{RefreshSchedule: "every tuesday"}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	assert.Error(t, svc.Start(ctx))
}

func TestStart_StopsOnCancel(t *testing.T) {
	svc := newService(t, &feedFetcher{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()
	cancel()
	assert.NoError(t, <-done)
}
