package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/tally/internal/progress"
	"github.com/dwsmith1983/tally/internal/quota"
	"github.com/dwsmith1983/tally/internal/server/handlers"
	"github.com/dwsmith1983/tally/internal/testutil"
	"github.com/dwsmith1983/tally/pkg/types"
)

type fixture struct {
	ts      *httptest.Server
	store   *testutil.MemoryStore
	tracker *quota.Tracker
	latest  *progress.Latest
}

func setupTestServer(t *testing.T, apiKey string) *fixture {
	t.Helper()
	f := &fixture{
		store:   testutil.NewMemoryStore(),
		tracker: quota.NewTracker(quota.Config{CeilingPerMinute: 100, Clock: quartz.NewMock(t)}),
		latest:  &progress.Latest{},
	}
	srv := New(":0", handlers.Deps{
		Store:       f.store,
		Metrics:     f.store,
		Checkpoints: f.store,
		Tracker:     f.tracker,
		Latest:      f.latest,
	}, apiKey)

	f.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(f.ts.Close)
	return f
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	f := setupTestServer(t, "")

	var body map[string]string
	resp := getJSON(t, f.ts.URL+"/api/health", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("down") }

func TestHealthEndpoint_Degraded(t *testing.T) {
	srv := New(":0", handlers.Deps{Store: failingPinger{}}, "")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	var body map[string]string
	getJSON(t, ts.URL+"/api/health", &body)
	assert.Equal(t, "degraded", body["status"])
}

func TestProgressEndpoint(t *testing.T) {
	f := setupTestServer(t, "")

	resp := getJSON(t, f.ts.URL+"/api/progress", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	f.latest.Set(progress.Report{
		RunProgress: types.RunProgress{RunID: "run-9", TotalEntities: 10, Processed: 4},
		Remaining:   6,
	})

	var body map[string]any
	resp = getJSON(t, f.ts.URL+"/api/progress", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "run-9", body["runId"])
	assert.EqualValues(t, 6, body["remaining"])
	assert.EqualValues(t, 4, body["processed"])
}

func TestQuotaEndpoint(t *testing.T) {
	f := setupTestServer(t, "")
	for i := 0; i < 30; i++ {
		f.tracker.RecordRequest()
	}

	var snap quota.Snapshot
	getJSON(t, f.ts.URL+"/api/quota", &snap)
	assert.Equal(t, 30, snap.Count)
	assert.Equal(t, 100, snap.Ceiling)
}

func TestMetricsEndpoint(t *testing.T) {
	f := setupTestServer(t, "")
	views := int64(12)
	require.NoError(t, f.store.BulkUpsert(context.Background(), []types.MetricsRecord{
		{EntityID: "vid-1", Date: "2025-03-01", Views: &views},
	}))

	var rec types.MetricsRecord
	resp := getJSON(t, f.ts.URL+"/api/metrics/vid-1/2025-03-01", &rec)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, rec.Views)
	assert.Equal(t, int64(12), *rec.Views)

	resp = getJSON(t, f.ts.URL+"/api/metrics/vid-2/2025-03-01", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = getJSON(t, f.ts.URL+"/api/metrics/vid-1/yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCheckpointEndpoint(t *testing.T) {
	f := setupTestServer(t, "")
	require.NoError(t, f.store.PutCheckpoint(context.Background(), "march", "2025-03-04"))

	var body map[string]string
	resp := getJSON(t, f.ts.URL+"/api/checkpoints/march", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2025-03-04", body["date"])

	resp = getJSON(t, f.ts.URL+"/api/checkpoints/april", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMissingDeps(t *testing.T) {
	srv := New(":0", handlers.Deps{}, "")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	for _, path := range []string{"/api/progress", "/api/quota", "/api/metrics/a/2025-03-01", "/api/checkpoints/j"} {
		resp := getJSON(t, ts.URL+path, nil)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, path)
	}
}

func TestDebugVars(t *testing.T) {
	f := setupTestServer(t, "")

	var vars map[string]any
	resp := getJSON(t, f.ts.URL+"/debug/vars", &vars)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, vars, "memstats")
}

func TestAPIKey(t *testing.T) {
	f := setupTestServer(t, "s3cret")

	resp := getJSON(t, f.ts.URL+"/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = getJSON(t, f.ts.URL+"/api/quota", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, f.ts.URL+"/api/quota", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "s3cret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequestIDPropagated(t *testing.T) {
	f := setupTestServer(t, "")
	req, err := http.NewRequest(http.MethodGet, f.ts.URL+"/api/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "abc")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, "abc", resp.Header.Get("X-Request-ID"))
}
