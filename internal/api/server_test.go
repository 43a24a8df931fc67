package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/scoracle-pipeline/internal/api"
	"github.com/albapepper/scoracle-pipeline/internal/app"
	"github.com/albapepper/scoracle-pipeline/internal/config"
	"github.com/albapepper/scoracle-pipeline/internal/db/dbtest"
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

func newServer(t *testing.T, fetcher staticFetcher) (*httptest.Server, *app.App) {
	t.Helper()
	cfg := &config.Config{
		SyncBatchSize:        500,
		SyncWorkers:          2,
		SyncLockBackend:      "memory",
		SyncLockTTL:          time.Minute,
		WebhookTimeout:       time.Second,
		WebhookConcurrency:   2,
		JobRetention:         time.Minute,
		NotifierPollInterval: time.Second,
		RefreshSeason:        2024,
		CacheEnabled:         true,
		CORSAllowOrigins:     []string{"*"},
		ServiceVersion:       "test",
	}
	a, err := app.Wire(context.Background(), cfg, dbtest.SQLite(t), fetcher, logging.NewNop())
	require.NoError(t, err)
	srv := httptest.NewServer(api.NewRouter(a))
	t.Cleanup(func() {
		srv.Close()
		_ = a.Close()
	})
	return srv, a
}

func do(t *testing.T, method, url, body string, header map[string]string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

func TestHealth(t *testing.T) {
	srv, _ := newServer(t, staticFetcher{})
	resp, body := do(t, http.MethodGet, srv.URL+"/health/db", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"connected"`)
	assert.NotEmpty(t, resp.Header.Get("X-Process-Time"))
}

func TestSyncJobStreamsEvents(t *testing.T) {
	srv, a := newServer(t, staticFetcher{
		provider.Team: {`{"id":1,"abbreviation":"KC"}`, `{"id":2,"abbreviation":"BUF"}`},
	})

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/jobs/sync", `{"entity":"team"}`, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, body)
	var started struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &started))

	stream, err := http.Get(srv.URL + "/api/v1/jobs/" + started.ID + "/events")
	require.NoError(t, err)
	defer stream.Body.Close()
	assert.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))

	var events []string
	scanner := bufio.NewScanner(stream.Body)
	for scanner.Scan() {
		if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
			events = append(events, name)
		}
	}
	assert.Equal(t, []string{"progress", "complete", "done"}, events)

	ids, err := a.Raw.TeamIDs(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2}, ids)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/jobs/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSyncJobValidation(t *testing.T) {
	srv, _ := newServer(t, staticFetcher{})

	resp, _ := do(t, http.MethodPost, srv.URL+"/api/v1/jobs/sync", `{"season":2024}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/v1/jobs/sync", `{"entity":"weather"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/v1/jobs/sync", `{not json`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDocumentsUseETag(t *testing.T) {
	srv, a := newServer(t, staticFetcher{})
	_, err := a.Docs.Upsert(context.Background(), &metrics.Document{
		DocKey:  metrics.DocKey{EntityType: metrics.EntityPlayer, EntityID: 7, Season: 2024, Scope: metrics.ScopeSeason},
		Sources: metrics.Sources{Provider: map[string]float64{"passing_yards": 300}, Computed: metrics.Aggregate(nil)},
		Metrics: map[string]float64{"passing_yards": 300},
	})
	require.NoError(t, err)

	url := srv.URL + "/api/v1/metrics/player/7?season=2024"
	resp, body := do(t, http.MethodGet, url, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
	assert.Contains(t, body, `"passing_yards":300`)
	etag := resp.Header.Get("ETag")
	require.NotEmpty(t, etag)

	resp, _ = do(t, http.MethodGet, url, "", map[string]string{"If-None-Match": etag})
	assert.Equal(t, http.StatusNotModified, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/metrics/coach/7?season=2024", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/metrics/player/8?season=2024", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/standings/2024", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminWebhooksAndAlerts(t *testing.T) {
	srv, _ := newServer(t, staticFetcher{})

	resp, _ := do(t, http.MethodPost, srv.URL+"/api/v1/admin/webhooks",
		`{"url":"not-a-url","events":["metric.update"]}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/admin/webhooks",
		`{"url":"https://hooks.example.com/x","events":["metric.update","metric.threshold"],"secret":"s"}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	var sub struct {
		ID     string `json:"id"`
		Active bool   `json:"active"`
		Secret string `json:"secret"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &sub))
	assert.True(t, sub.Active)
	assert.Empty(t, sub.Secret, "secrets are never echoed")

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/v1/admin/alerts",
		`{"entity_type":"player","entity_id":7,"metric":"passer_rating","operator":"above","value":95,"webhook_id":"`+sub.ID+`"}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/v1/admin/alerts",
		`{"entity_type":"player","entity_id":7,"metric":"passer_rating","operator":"gt","value":95,"webhook_id":"missing"}`, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = do(t, http.MethodPost, srv.URL+"/api/v1/admin/alerts",
		`{"entity_type":"player","entity_id":7,"metric":"passer_rating","operator":"gt","value":95,"webhook_id":"`+sub.ID+`"}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)

	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/admin/alerts", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"passer_rating"`)

	resp, _ = do(t, http.MethodDelete, srv.URL+"/api/v1/admin/webhooks/"+sub.ID, "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/admin/webhooks/"+sub.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminCursors(t *testing.T) {
	srv, a := newServer(t, staticFetcher{})
	cur := "42"
	require.NoError(t, a.Cursors.Set(context.Background(), "plays_cursor_game_9", &cur, nil))

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/admin/cursors?prefix=plays_", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"plays_cursor_game_9"`)

	resp, _ = do(t, http.MethodDelete, srv.URL+"/api/v1/admin/cursors/plays_cursor_game_9", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, http.MethodDelete, srv.URL+"/api/v1/admin/cursors/plays_cursor_game_9", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
