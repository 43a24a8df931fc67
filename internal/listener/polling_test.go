package listener_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/scoracle-pipeline/internal/cursor"
	"github.com/albapepper/scoracle-pipeline/internal/db/dbtest"
	"github.com/albapepper/scoracle-pipeline/internal/listener"
	"github.com/albapepper/scoracle-pipeline/internal/logging"
	"github.com/albapepper/scoracle-pipeline/internal/metrics"
	"github.com/albapepper/scoracle-pipeline/internal/provider"
	"github.com/albapepper/scoracle-pipeline/internal/seed"
)

type fixture struct {
	raw     *seed.Store
	docs    *metrics.Store
	cursors *cursor.Store
	source  *listener.PollingSource
	clock   *time.Time
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	d := dbtest.SQLite(t)
	now := time.UnixMilli(500)
	f := fixture{clock: &now, cursors: cursor.NewStore(d)}
	clock := func() time.Time { return *f.clock }
	f.raw = seed.NewStore(d, 500).WithClock(clock)
	f.docs = metrics.NewStore(d).WithClock(clock)
	f.source = listener.NewPollingSource(f.cursors,
		[]listener.Watch{listener.MetricWatch(f.docs), listener.InjuryWatch(f.raw)},
		time.Second, logging.NewNop()).WithClock(clock)
	return f
}

func (f fixture) injury(t *testing.T, player int64, status string) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"player": map[string]any{"id": player}, "status": status})
	require.NoError(t, err)
	rec, err := seed.Decode(provider.Injury, raw)
	require.NoError(t, err)
	_, err = f.raw.Upsert(context.Background(), provider.Injury, []seed.Record{rec})
	require.NoError(t, err)
}

func (f fixture) document(t *testing.T, id int64, rating float64) {
	t.Helper()
	doc := &metrics.Document{
		DocKey:  metrics.DocKey{EntityType: metrics.EntityPlayer, EntityID: id, Season: 2024, Scope: metrics.ScopeSeason},
		Sources: metrics.Sources{Provider: map[string]float64{"passer_rating": rating}, Computed: metrics.Aggregate(nil)},
		Metrics: map[string]float64{"passer_rating": rating},
	}
	_, err := f.docs.Upsert(context.Background(), doc)
	require.NoError(t, err)
}

type recorder struct {
	changes []listener.Change
	failOn  string
}

func (r *recorder) handle(_ context.Context, c listener.Change) error {
	if c.Key == r.failOn {
		return errors.New("subscriber store down")
	}
	r.changes = append(r.changes, c)
	return nil
}

func TestPolling_AdvancesWatermark(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.source.Init(ctx))

	*f.clock = time.UnixMilli(1_000)
	f.document(t, 7, 90)
	f.injury(t, 7, "Questionable")

	rec := &recorder{}
	n, err := f.source.Poll(ctx, rec.handle)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []listener.Change{
		{Collection: listener.CollectionMetrics, Key: "player:7:2024:season", UpdatedAt: 1_000},
		{Collection: listener.CollectionInjuries, Key: "7", UpdatedAt: 1_000},
	}, rec.changes)

	n, err = f.source.Poll(ctx, rec.handle)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing new since the watermark")

	wm, err := f.cursors.Get(ctx, "notifier_poll_injuries")
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.Equal(t, "1000|7", *wm)
}

func TestPolling_HandlerFailureHoldsWatermark(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.source.Init(ctx))

	*f.clock = time.UnixMilli(2_000)
	f.injury(t, 1, "Out")
	f.injury(t, 2, "Out")

	failing := &recorder{failOn: "1"}
	_, err := f.source.Poll(ctx, failing.handle)
	require.Error(t, err)
	assert.Empty(t, failing.changes)

	ok := &recorder{}
	n, err := f.source.Poll(ctx, ok.handle)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "the failed change is retried")
}

func TestPolling_InitSkipsHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.injury(t, 1, "Out")
	f.document(t, 1, 80)

	*f.clock = time.UnixMilli(10_000)
	require.NoError(t, f.source.Init(ctx))

	rec := &recorder{}
	n, err := f.source.Poll(ctx, rec.handle)
	require.NoError(t, err)
	assert.Zero(t, n)

	// A stored watermark survives a restart.
	*f.clock = time.UnixMilli(20_000)
	require.NoError(t, f.source.Init(ctx))
	wm, err := f.cursors.Get(ctx, listener.WatermarkKey(listener.CollectionInjuries))
	require.NoError(t, err)
	assert.Equal(t, "10000|", *wm)
}

func TestWatermark(t *testing.T) {
	c := listener.Change{UpdatedAt: 1234, Key: "player:7:2024:season"}
	s := listener.FormatWatermark(c)
	assert.Equal(t, "1234|player:7:2024:season", s)
	assert.Equal(t, c, listener.ParseWatermark(&s))

	garbage := "nope"
	assert.Equal(t, listener.Change{}, listener.ParseWatermark(&garbage))
	assert.Equal(t, listener.Change{}, listener.ParseWatermark(nil))

	assert.Equal(t, "notifier_poll_metric_documents", listener.WatermarkKey(listener.CollectionMetrics))
	assert.Equal(t, "notifier_poll_injuries", listener.WatermarkKey(listener.CollectionInjuries))
}

func TestSelect_SQLitePolls(t *testing.T) {
	d := dbtest.SQLite(t)
	src := listener.Select(context.Background(), d, cursor.NewStore(d), nil, time.Second, logging.NewNop())
	assert.Equal(t, "polling", src.Name())
}

func TestPollingRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.source.Run(ctx, (&recorder{}).handle) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
