package notifications_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/scoracle-pipeline/internal/db/dbtest"
	"github.com/albapepper/scoracle-pipeline/internal/listener"
	"github.com/albapepper/scoracle-pipeline/internal/logging"
	"github.com/albapepper/scoracle-pipeline/internal/metrics"
	"github.com/albapepper/scoracle-pipeline/internal/notifications"
	"github.com/albapepper/scoracle-pipeline/internal/provider"
	"github.com/albapepper/scoracle-pipeline/internal/seed"
)

// hook is a webhook endpoint that records what it receives.
type hook struct {
	mu       sync.Mutex
	status   int
	received []notifications.Event
	headers  []http.Header
	srv      *httptest.Server
}

func newHook(t *testing.T, status int) *hook {
	t.Helper()
	h := &hook{status: status}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev notifications.Event
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &ev)
		h.mu.Lock()
		h.received = append(h.received, ev)
		h.headers = append(h.headers, r.Header.Clone())
		h.mu.Unlock()
		w.WriteHeader(h.status)
		if h.status >= 300 {
			_, _ = w.Write([]byte("boom"))
		}
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *hook) events(name string) []notifications.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []notifications.Event
	for _, ev := range h.received {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	docs       *metrics.Store
	raw        *seed.Store
	store      *notifications.Store
	dispatcher *notifications.Dispatcher
	notifier   *notifications.Notifier
	clock      *time.Time
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	d := dbtest.SQLite(t)
	now := time.UnixMilli(1_000)
	f := fixture{clock: &now}
	clock := func() time.Time { return *f.clock }
	f.docs = metrics.NewStore(d).WithClock(clock)
	f.raw = seed.NewStore(d, 500).WithClock(clock)
	f.store = notifications.NewStore(d).WithClock(clock)
	logger := logging.NewNop()
	dispatcher, err := notifications.NewDispatcher(notifications.NewHTTPClient(time.Second), f.store, 2, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dispatcher.Close() })
	f.dispatcher = dispatcher
	f.notifier = notifications.NewNotifier(f.docs, f.raw, f.store, dispatcher, nil, logger)
	return f
}

var playerKey = metrics.DocKey{EntityType: metrics.EntityPlayer, EntityID: 7, Season: 2024, Scope: metrics.ScopeSeason}

// write stores the player document with the given metrics, runs the
// resulting change through the notifier and waits for deliveries.
func (f fixture) write(t *testing.T, values map[string]float64) {
	t.Helper()
	ctx := context.Background()
	*f.clock = f.clock.Add(time.Second)
	doc := &metrics.Document{
		DocKey:  playerKey,
		Sources: metrics.Sources{Provider: values, Computed: metrics.Aggregate(nil)},
		Metrics: values,
	}
	_, err := f.docs.Upsert(ctx, doc)
	require.NoError(t, err)
	require.NoError(t, f.notifier.HandleChange(ctx, listener.Change{
		Collection: listener.CollectionMetrics, Key: playerKey.String(), UpdatedAt: doc.UpdatedAt,
	}))
	f.dispatcher.Wait()
}

func TestOperatorHolds(t *testing.T) {
	cases := []struct {
		op        notifications.Operator
		value     float64
		threshold float64
		want      bool
	}{
		{notifications.OpGT, 95.1, 95, true},
		{notifications.OpGT, 95, 95, false},
		{notifications.OpGTE, 95, 95, true},
		{notifications.OpLT, 94.9, 95, true},
		{notifications.OpLT, 95, 95, false},
		{notifications.OpLTE, 95, 95, true},
		{notifications.OpEQ, 0.1 + 0.2, 0.3, true},
		{notifications.OpEQ, 1, 2, false},
		{notifications.Operator("between"), 1, 1, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.op.Holds(tc.value, tc.threshold), "%s %v %v", tc.op, tc.value, tc.threshold)
	}

	_, err := notifications.ParseOperator("gte")
	assert.NoError(t, err)
	_, err = notifications.ParseOperator(">=")
	assert.Error(t, err)
}

func TestAlertFiresOncePerCrossing(t *testing.T) {
	below, above := 90.0, 100.0
	a := notifications.Alert{Operator: notifications.OpGT, Value: 95}

	assert.True(t, a.Fires(100), "first observation above the threshold")
	a.LastValue = &below
	assert.True(t, a.Fires(100))
	a.LastValue = &above
	assert.False(t, a.Fires(101), "still above, no new crossing")
	assert.False(t, a.Fires(80))
}

func TestNotifier_ThresholdAlert(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	h := newHook(t, http.StatusOK)

	sub := &notifications.Subscription{URL: h.srv.URL, Events: []string{}, Active: true}
	require.NoError(t, f.store.SaveSubscription(ctx, sub))
	alert := &notifications.Alert{
		EntityType: metrics.EntityPlayer, EntityID: 7, Metric: "passer_rating",
		Operator: notifications.OpGT, Value: 95, WebhookID: sub.ID, Active: true,
	}
	require.NoError(t, f.store.SaveAlert(ctx, alert))

	f.write(t, map[string]float64{"passer_rating": 90})
	assert.Empty(t, h.events(notifications.EventMetricThreshold))
	stored, err := f.store.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LastFiredAt)
	require.NotNil(t, stored.LastValue)
	assert.Equal(t, 90.0, *stored.LastValue)

	f.write(t, map[string]float64{"passer_rating": 100})
	fired := h.events(notifications.EventMetricThreshold)
	require.Len(t, fired, 1)
	assert.Equal(t, 100.0, fired[0].Payload["value"])
	stored, err = f.store.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastFiredAt)
	assert.Equal(t, f.clock.UnixMilli(), *stored.LastFiredAt)
	firedAt := *stored.LastFiredAt

	// An unrelated metric changes; the rating stays above the threshold.
	f.write(t, map[string]float64{"passer_rating": 100, "passing_yards": 300})
	assert.Len(t, h.events(notifications.EventMetricThreshold), 1)
	stored, err = f.store.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, firedAt, *stored.LastFiredAt)

	// Dropping below and crossing again fires a second time.
	f.write(t, map[string]float64{"passer_rating": 92})
	f.write(t, map[string]float64{"passer_rating": 97})
	assert.Len(t, h.events(notifications.EventMetricThreshold), 2)

	assert.Empty(t, h.events(notifications.EventMetricUpdate), "subscription did not ask for updates")
}

func TestNotifier_DeliveryIsolation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	good := newHook(t, http.StatusOK)
	bad := newHook(t, http.StatusInternalServerError)

	goodSub := &notifications.Subscription{URL: good.srv.URL, Events: []string{notifications.EventMetricUpdate}, Active: true}
	badSub := &notifications.Subscription{URL: bad.srv.URL, Events: []string{notifications.EventMetricUpdate}, Active: true}
	inactive := &notifications.Subscription{URL: good.srv.URL, Events: []string{notifications.EventMetricUpdate}, Active: false}
	for _, s := range []*notifications.Subscription{goodSub, badSub, inactive} {
		require.NoError(t, f.store.SaveSubscription(ctx, s))
	}

	f.write(t, map[string]float64{"passer_rating": 88})

	require.Len(t, good.events(notifications.EventMetricUpdate), 1)
	require.Len(t, bad.events(notifications.EventMetricUpdate), 1)
	assert.Equal(t, playerKey.String(), good.events(notifications.EventMetricUpdate)[0].Payload["doc_key"])

	got, err := f.store.GetSubscription(ctx, goodSub.ID)
	require.NoError(t, err)
	assert.Equal(t, "ok", got.LastStatus)
	assert.Equal(t, http.StatusOK, got.LastStatusCode)

	got, err = f.store.GetSubscription(ctx, badSub.ID)
	require.NoError(t, err)
	assert.Equal(t, "http 500: boom", got.LastStatus)
	assert.Equal(t, http.StatusInternalServerError, got.LastStatusCode)

	got, err = f.store.GetSubscription(ctx, inactive.ID)
	require.NoError(t, err)
	assert.Empty(t, got.LastStatus)
}

func TestNotifier_SlowSubscriberDoesNotBlockDetection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var (
		mu       sync.Mutex
		received int
	)
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		mu.Lock()
		received++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(slow.Close)

	sub := &notifications.Subscription{URL: slow.URL, Events: []string{notifications.EventMetricUpdate}, Active: true}
	require.NoError(t, f.store.SaveSubscription(ctx, sub))

	doc := &metrics.Document{
		DocKey:  playerKey,
		Sources: metrics.Sources{Provider: map[string]float64{"passer_rating": 80}, Computed: metrics.Aggregate(nil)},
		Metrics: map[string]float64{"passer_rating": 80},
	}
	_, err := f.docs.Upsert(ctx, doc)
	require.NoError(t, err)

	start := time.Now()
	for range 3 {
		require.NoError(t, f.notifier.HandleChange(ctx, listener.Change{
			Collection: listener.CollectionMetrics, Key: playerKey.String(), UpdatedAt: doc.UpdatedAt,
		}))
	}
	assert.Less(t, time.Since(start), 250*time.Millisecond, "detection must not wait on deliveries")

	f.dispatcher.Wait()
	mu.Lock()
	assert.Equal(t, 3, received)
	mu.Unlock()

	got, err := f.store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "ok", got.LastStatus)
}

func TestDispatcher_DropsAfterClose(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	h := newHook(t, http.StatusOK)
	sub := &notifications.Subscription{URL: h.srv.URL, Events: []string{notifications.EventMetricUpdate}, Active: true}
	require.NoError(t, f.store.SaveSubscription(ctx, sub))

	ev := notifications.Event{Name: notifications.EventMetricUpdate, Payload: map[string]any{"a": 1}}
	f.dispatcher.Dispatch(ctx, []notifications.Subscription{*sub}, ev)
	require.NoError(t, f.dispatcher.Close())
	assert.Len(t, h.events(notifications.EventMetricUpdate), 1, "close drains queued deliveries")

	f.dispatcher.Dispatch(ctx, []notifications.Subscription{*sub}, ev)
	f.dispatcher.Wait()
	assert.Len(t, h.events(notifications.EventMetricUpdate), 1)
	require.NoError(t, f.dispatcher.Close())
}

func TestNotifier_InjuryUpdate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	h := newHook(t, http.StatusOK)
	require.NoError(t, f.store.SaveSubscription(ctx, &notifications.Subscription{
		URL: h.srv.URL, Events: []string{notifications.EventInjuryUpdate}, Active: true,
	}))

	rec, err := seed.Decode(provider.Injury, json.RawMessage(`{"player":{"id":44},"status":"Out"}`))
	require.NoError(t, err)
	_, err = f.raw.Upsert(ctx, provider.Injury, []seed.Record{rec})
	require.NoError(t, err)

	require.NoError(t, f.notifier.HandleChange(ctx, listener.Change{Collection: listener.CollectionInjuries, Key: "44"}))
	f.dispatcher.Wait()
	got := h.events(notifications.EventInjuryUpdate)
	require.Len(t, got, 1)
	injury, ok := got[0].Payload["injury"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Out", injury["status"])

	// A vanished row is not an error.
	require.NoError(t, f.notifier.HandleChange(ctx, listener.Change{Collection: listener.CollectionInjuries, Key: "999"}))
	f.dispatcher.Wait()
	assert.Len(t, h.events(notifications.EventInjuryUpdate), 1)
}

func TestDeliver_SignsAndTimesOut(t *testing.T) {
	h := newHook(t, http.StatusNoContent)
	sub := notifications.Subscription{ID: "s1", URL: h.srv.URL, Secret: "shh"}
	ev := notifications.Event{Name: notifications.EventMetricUpdate, Payload: map[string]any{"a": 1}}

	res := notifications.Deliver(context.Background(), notifications.NewHTTPClient(time.Second), sub, ev)
	assert.True(t, res.OK)
	assert.Equal(t, "ok", res.Status)
	require.Len(t, h.headers, 1)
	sig := h.headers[0].Get("X-Scoracle-Signature")
	assert.True(t, strings.HasPrefix(sig, "sha256="))
	assert.Len(t, strings.TrimPrefix(sig, "sha256="), 64)

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()
	res = notifications.Deliver(context.Background(), notifications.NewHTTPClient(50*time.Millisecond),
		notifications.Subscription{ID: "s2", URL: slow.URL}, ev)
	assert.False(t, res.OK)
	assert.Zero(t, res.StatusCode)
	assert.True(t, strings.HasPrefix(res.Status, "error: "))
}

func TestSign(t *testing.T) {
	assert.Equal(t, "f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8",
		notifications.Sign("key", []byte("The quick brown fox jumps over the lazy dog")))
}

const manifestYAML = `
subscriptions:
  - id: ops
    url: https://hooks.example.com/scoracle
    events: [metric.update, injury.update]
    alerts:
      - id: qb-hot
        entity_type: player
        entity_id: 7
        season: 2024
        metric: passer_rating
        operator: gt
        value: 95
`

func TestManifest_ParseAndApply(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := validator.New()

	m, err := notifications.ParseManifest(strings.NewReader(manifestYAML), v)
	require.NoError(t, err)

	res, err := f.store.ApplyManifest(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, notifications.ApplyResult{Subscriptions: 1, Alerts: 1}, res)

	// Re-applying updates in place.
	_, err = f.store.ApplyManifest(ctx, m)
	require.NoError(t, err)
	subs, err := f.store.ListSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.True(t, subs[0].Wants(notifications.EventInjuryUpdate))

	alerts, err := f.store.AlertsFor(ctx, playerKey)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "qb-hot", alerts[0].ID)
	assert.Equal(t, "ops", alerts[0].WebhookID)
	assert.Equal(t, metrics.ScopeSeason, alerts[0].Scope)
}

func TestManifest_RejectsInvalid(t *testing.T) {
	v := validator.New()
	bad := strings.Replace(manifestYAML, "operator: gt", "operator: above", 1)
	_, err := notifications.ParseManifest(strings.NewReader(bad), v)
	assert.Error(t, err)

	bad = strings.Replace(manifestYAML, "https://hooks.example.com/scoracle", "not a url", 1)
	_, err = notifications.ParseManifest(strings.NewReader(bad), v)
	assert.Error(t, err)
}
