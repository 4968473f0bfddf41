package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/tally/internal/provider/providertest"
	"github.com/dwsmith1983/tally/pkg/types"
)

func setupTestProvider(t *testing.T) (*RedisProvider, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	prov := NewFromClient(client, "tally-test:")
	t.Cleanup(func() { _ = prov.Close() })
	return prov, mr
}

func TestConformance(t *testing.T) {
	prov, _ := setupTestProvider(t)
	providertest.RunAll(t, prov)
}

func TestPing(t *testing.T) {
	prov, mr := setupTestProvider(t)
	require.NoError(t, prov.Ping(context.Background()))

	mr.Close()
	assert.Error(t, prov.Ping(context.Background()))
}

func TestKeysUsePrefix(t *testing.T) {
	prov, mr := setupTestProvider(t)
	ctx := context.Background()

	require.NoError(t, prov.PutCheckpoint(ctx, "daily", "2025-01-01"))
	require.NoError(t, prov.AddEntities(ctx, []types.Entity{{ID: "v1", PublishedAt: time.Unix(0, 0)}}))

	assert.True(t, mr.Exists("tally-test:checkpoint:daily"))
	assert.True(t, mr.Exists("tally-test:entities"))
}

func TestNewFromClient_DefaultPrefix(t *testing.T) {
	prov := NewFromClient(goredis.NewClient(&goredis.Options{Addr: "localhost:0"}), "")
	assert.Equal(t, "tally:", prov.prefix)
	_ = prov.Close()
}
