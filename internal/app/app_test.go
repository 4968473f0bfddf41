package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/tally/internal/testutil"
	"github.com/dwsmith1983/tally/pkg/types"
)

type stubSecrets struct {
	value string
	err   error
}

func (s stubSecrets) GetSecretValue(_ context.Context, _ *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(s.value)}, nil
}

func metricsAPI(t *testing.T, wantToken string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+wantToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = fmt.Fprint(w, `{"columnHeaders":[{"name":"views"}],"rows":[[7]]}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func redisConfig(t *testing.T, baseURL string) *types.ProjectConfig {
	t.Helper()
	mr := miniredis.RunT(t)
	return &types.ProjectConfig{
		API:         types.APIConfig{BaseURL: baseURL},
		Auth:        types.AuthConfig{AccessToken: "tok"},
		Rate:        types.RateConfig{CeilingPerMinute: 720},
		Store:       types.BackendConfig{Provider: types.StoreRedis},
		Entities:    types.BackendConfig{Provider: types.StoreRedis},
		Checkpoints: types.BackendConfig{Provider: types.StoreRedis},
		Redis:       &types.RedisConfig{Addr: mr.Addr(), KeyPrefix: "test:"},
	}
}

func TestBuild_ImportsThroughRedis(t *testing.T) {
	api := metricsAPI(t, "tok")
	cfg := redisConfig(t, api.URL)
	clock := quartz.NewMock(t)

	a, err := Build(context.Background(), cfg, Options{
		Clock: clock,
		Sleep: (&testutil.RecordingSleeper{Clock: clock}).Sleep,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	// Three roles share one connection.
	assert.Same(t, a.Stores.Metrics, a.Stores.Entities)
	assert.Len(t, a.Stores.distinct(), 1)
	require.NoError(t, a.Stores.Ping(context.Background()))

	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, a.Stores.Entities.AddEntities(context.Background(), []types.Entity{
		{ID: "v1", PublishedAt: day.Add(-time.Hour)},
		{ID: "v2", PublishedAt: day.Add(-2 * time.Hour)},
	}))

	p, err := a.Collector.ImportDay(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Persisted)

	rec, err := a.Stores.Metrics.GetMetrics(context.Background(), "v1", "2025-03-01")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(7), *rec.Views)
}

func TestBuild_AccessTokenFromSecret(t *testing.T) {
	api := metricsAPI(t, "from-secret")
	cfg := redisConfig(t, api.URL)
	cfg.Auth = types.AuthConfig{SecretID: "tally/api"}

	a, err := Build(context.Background(), cfg, Options{
		Secrets: stubSecrets{value: `{"accessToken":"from-secret"}`},
		Stores:  NewStores(testutil.NewMemoryStore(), testutil.NewMemoryStore(), nil),
	})
	require.NoError(t, err)
	assert.Equal(t, "from-secret", a.Credentials.Current().Token)
}

func TestBuild_SecretError(t *testing.T) {
	cfg := redisConfig(t, "http://unused")
	cfg.Auth = types.AuthConfig{SecretID: "tally/api"}

	_, err := Build(context.Background(), cfg, Options{
		Secrets: stubSecrets{err: errors.New("access denied")},
		Stores:  NewStores(testutil.NewMemoryStore(), testutil.NewMemoryStore(), nil),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestBuild_NoAccessToken(t *testing.T) {
	cfg := redisConfig(t, "http://unused")
	cfg.Auth = types.AuthConfig{SecretID: "tally/api"}

	_, err := Build(context.Background(), cfg, Options{
		Secrets: stubSecrets{value: `{"clientId":"c"}`},
		Stores:  NewStores(testutil.NewMemoryStore(), testutil.NewMemoryStore(), nil),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no access token")
}

func TestBuild_HardLimitAndBadBands(t *testing.T) {
	cfg := redisConfig(t, "http://unused")
	cfg.Rate.HardLimit = true
	stores := NewStores(testutil.NewMemoryStore(), testutil.NewMemoryStore(), nil)

	_, err := Build(context.Background(), cfg, Options{Stores: stores})
	require.NoError(t, err)

	cfg.Rate.Bands = []types.Band{{Below: 0.5, Delay: "nope", BatchSize: 1}}
	_, err = Build(context.Background(), cfg, Options{Stores: stores})
	assert.Error(t, err)
}

func TestOpenStores_Unreachable(t *testing.T) {
	cfg := &types.ProjectConfig{
		Store:    types.BackendConfig{Provider: types.StoreRedis},
		Entities: types.BackendConfig{Provider: types.StoreRedis},
		Redis:    &types.RedisConfig{Addr: "127.0.0.1:1"},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := OpenStores(ctx, cfg)
	assert.Error(t, err)
}

func TestOpenStores_UnknownProvider(t *testing.T) {
	_, err := OpenStores(context.Background(), &types.ProjectConfig{
		Store: types.BackendConfig{Provider: "mongo"},
	})
	assert.ErrorContains(t, err, "unsupported provider")
}

func TestMigrate_SkipsRedis(t *testing.T) {
	cfg := redisConfig(t, "http://unused")
	stores, err := OpenStores(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = stores.Close() })

	done, err := stores.Migrate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, done)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "warn", "json").Info("hidden")
	assert.Empty(t, buf.String())

	NewLogger(&buf, "debug", "json").Debug("shown", "entity", "v1")
	assert.Contains(t, buf.String(), `"entity":"v1"`)

	buf.Reset()
	NewLogger(&buf, "info", "text").Info("plain")
	assert.Contains(t, buf.String(), "msg=plain")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}
