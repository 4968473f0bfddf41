package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/tally/internal/quota"
	"github.com/dwsmith1983/tally/pkg/types"
)

const okBody = `{
  "columnHeaders": [{"name":"day"},{"name":"views"},{"name":"averageViewPercentage"},{"name":"likes"}],
  "rows": [["2025-03-01", 1200, 41.5, 33]]
}`

func newTestFetcher(t *testing.T, h http.HandlerFunc, mutate ...func(*Config)) (*Fetcher, *quota.Tracker) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	tr := quota.NewTracker(quota.Config{CeilingPerMinute: 1000, Clock: quartz.NewMock(t)})
	cfg := Config{BaseURL: srv.URL, Client: srv.Client(), Tracker: tr, Clock: quartz.NewMock(t)}
	for _, m := range mutate {
		m(&cfg)
	}
	f, err := New(cfg)
	require.NoError(t, err)
	return f, tr
}

func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func TestFetch_Success(t *testing.T) {
	var gotAuth, gotEntity, gotDate, gotMetrics string
	f, tr := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotEntity = r.URL.Query().Get("entity")
		gotDate = r.URL.Query().Get("date")
		gotMetrics = r.URL.Query().Get("metrics")
		assert.Equal(t, "/metrics", r.URL.Path)
		respond(http.StatusOK, okBody)(w, r)
	})

	out := f.Fetch(context.Background(), "vid-1", "2025-03-01", types.Credential{Token: "tok"})
	require.Equal(t, types.OutcomeSuccess, out.Kind, out.Reason)
	require.NotNil(t, out.Record)

	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "vid-1", gotEntity)
	assert.Equal(t, "2025-03-01", gotDate)
	assert.Contains(t, gotMetrics, "estimatedMinutesWatched")

	assert.Equal(t, types.EntityID("vid-1"), out.Record.EntityID)
	assert.Equal(t, int64(1200), *out.Record.Views)
	assert.Equal(t, 41.5, *out.Record.AverageViewPercentage)
	assert.Equal(t, int64(33), *out.Record.Likes)
	assert.Nil(t, out.Record.Comments)
	assert.Equal(t, 1, tr.CountInWindow())
}

func TestFetch_Classification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   types.OutcomeKind
	}{
		{"empty rows", 200, `{"columnHeaders":[{"name":"views"}],"rows":[]}`, types.OutcomeNoData},
		{"missing rows", 200, `{"columnHeaders":[{"name":"views"}]}`, types.OutcomeNoData},
		{"garbage body", 200, `<html>`, types.OutcomeServerTransient},
		{"unauthorized", 401, `{}`, types.OutcomeAuthExpired},
		{"forbidden invalid token", 403, `{"error":{"status":"UNAUTHENTICATED"}}`, types.OutcomeAuthExpired},
		{"forbidden expired", 403, `{"error":{"message":"Token has been expired or revoked."}}`, types.OutcomeAuthExpired},
		{"forbidden quota", 403, `{"error":{"errors":[{"reason":"quotaExceeded"}]}}`, types.OutcomeRateLimited},
		{"forbidden rate", 403, `{"error":{"errors":[{"reason":"userRateLimitExceeded"}]}}`, types.OutcomeRateLimited},
		{"forbidden other", 403, `{"error":{"errors":[{"reason":"forbidden"}]}}`, types.OutcomeServerTransient},
		{"too many requests", 429, ``, types.OutcomeRateLimited},
		{"not found", 404, ``, types.OutcomeNoData},
		{"bad request", 400, `{"error":"unknown metric"}`, types.OutcomeFatal},
		{"conflict", 409, ``, types.OutcomeFatal},
		{"server error", 500, ``, types.OutcomeServerTransient},
		{"unavailable", 503, ``, types.OutcomeServerTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, _ := newTestFetcher(t, respond(tt.status, tt.body))
			out := f.Fetch(context.Background(), "e", "2025-03-01", types.Credential{Token: "t"})
			assert.Equal(t, tt.want, out.Kind, out.Reason)
			assert.Nil(t, out.Record)
		})
	}
}

func TestFetch_Timeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	f, _ := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}, func(c *Config) { c.Timeout = 20 * time.Millisecond })

	out := f.Fetch(context.Background(), "e", "2025-03-01", types.Credential{})
	assert.Equal(t, types.OutcomeServerTransient, out.Kind)
	assert.Equal(t, "request timeout", out.Reason)
}

func TestFetch_TransportError(t *testing.T) {
	tr := quota.NewTracker(quota.Config{Clock: quartz.NewMock(t)})
	f, err := New(Config{BaseURL: "http://127.0.0.1:1", Tracker: tr})
	require.NoError(t, err)

	out := f.Fetch(context.Background(), "e", "2025-03-01", types.Credential{})
	assert.Equal(t, types.OutcomeServerTransient, out.Kind)
}

func TestFetch_BreakerOpensOnTransientFailures(t *testing.T) {
	var hits atomic.Int32
	f, tr := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, func(c *Config) { c.Breaker = types.BreakerConfig{FailThreshold: 3, Cooldown: "1h"} })

	for i := 0; i < 3; i++ {
		out := f.Fetch(context.Background(), "e", "2025-03-01", types.Credential{})
		require.Equal(t, types.OutcomeServerTransient, out.Kind)
	}

	out := f.Fetch(context.Background(), "e", "2025-03-01", types.Credential{})
	assert.Equal(t, types.OutcomeDeferred, out.Kind)
	assert.Equal(t, "circuit open", out.Reason)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, 3, tr.CountInWindow())

	wait, limit := f.Admit()
	assert.Greater(t, wait, 59*time.Minute)
	assert.Zero(t, limit)
}

func TestFetch_AdmitAfterCooldown(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	f, _ := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(okBody))
	}, func(c *Config) { c.Breaker = types.BreakerConfig{FailThreshold: 2, Cooldown: "1ms"} })

	wait, limit := f.Admit()
	assert.Zero(t, wait)
	assert.Zero(t, limit)

	for i := 0; i < 2; i++ {
		f.Fetch(context.Background(), "e", "2025-03-01", types.Credential{})
	}
	failing.Store(false)

	require.Eventually(t, func() bool {
		_, limit := f.Admit()
		return limit == 1
	}, time.Second, time.Millisecond)

	out := f.Fetch(context.Background(), "e", "2025-03-01", types.Credential{})
	require.Equal(t, types.OutcomeSuccess, out.Kind)
	wait, limit = f.Admit()
	assert.Zero(t, wait)
	assert.Zero(t, limit)
}

func TestFetch_AdmitWithoutBreaker(t *testing.T) {
	f, _ := newTestFetcher(t, respond(http.StatusBadGateway, ""),
		func(c *Config) { c.Breaker = types.BreakerConfig{Disabled: true} })
	for i := 0; i < 30; i++ {
		f.Fetch(context.Background(), "e", "2025-03-01", types.Credential{})
	}
	wait, limit := f.Admit()
	assert.Zero(t, wait)
	assert.Zero(t, limit)
}

func TestFetch_BreakerIgnoresNonTransient(t *testing.T) {
	f, _ := newTestFetcher(t, respond(http.StatusTooManyRequests, ""),
		func(c *Config) { c.Breaker = types.BreakerConfig{FailThreshold: 2} })

	for i := 0; i < 5; i++ {
		out := f.Fetch(context.Background(), "e", "2025-03-01", types.Credential{})
		require.Equal(t, types.OutcomeRateLimited, out.Kind)
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Tracker: quota.NewTracker(quota.Config{})})
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "http://x"})
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "http://x", Tracker: quota.NewTracker(quota.Config{}), Breaker: types.BreakerConfig{Cooldown: "soon"}})
	assert.Error(t, err)
}
