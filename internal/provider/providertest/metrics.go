package providertest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/tally/internal/provider"
	"github.com/dwsmith1983/tally/pkg/types"
)

func int64p(v int64) *int64       { return &v }
func float64p(v float64) *float64 { return &v }

// TestUpsertAndGet verifies a record round-trips, including nulls.
func TestUpsertAndGet(t *testing.T, store provider.Store) {
	ctx := context.Background()
	fetched := time.Date(2025, 2, 2, 3, 4, 5, 0, time.UTC)

	rec := types.MetricsRecord{
		EntityID:              "ct-get",
		Date:                  "2025-02-01",
		Views:                 int64p(100),
		AverageViewPercentage: float64p(45.5),
		Likes:                 int64p(7),
		FetchedAt:             fetched,
	}
	require.NoError(t, store.BulkUpsert(ctx, []types.MetricsRecord{rec}))

	got, err := store.GetMetrics(ctx, "ct-get", "2025-02-01")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(100), *got.Views)
	assert.Equal(t, 45.5, *got.AverageViewPercentage)
	assert.Equal(t, int64(7), *got.Likes)
	assert.Nil(t, got.Comments)
	assert.True(t, fetched.Equal(got.FetchedAt))

	missing, err := store.GetMetrics(ctx, "ct-get", "2025-02-02")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// TestUpsertLastWriteWins verifies a second write replaces the first
// without merging fields.
func TestUpsertLastWriteWins(t *testing.T, store provider.Store) {
	ctx := context.Background()

	first := types.MetricsRecord{EntityID: "ct-lww", Date: "2025-02-01", Views: int64p(1), Likes: int64p(5), FetchedAt: time.Now().UTC()}
	second := types.MetricsRecord{EntityID: "ct-lww", Date: "2025-02-01", Views: int64p(2), FetchedAt: time.Now().UTC()}

	require.NoError(t, store.BulkUpsert(ctx, []types.MetricsRecord{first}))
	require.NoError(t, store.BulkUpsert(ctx, []types.MetricsRecord{second}))

	got, err := store.GetMetrics(ctx, "ct-lww", "2025-02-01")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(2), *got.Views)
	assert.Nil(t, got.Likes)
}

// TestUpsertLargeBatch verifies writes larger than any backend chunk size.
func TestUpsertLargeBatch(t *testing.T, store provider.Store) {
	ctx := context.Background()

	records := make([]types.MetricsRecord, 0, 120)
	for i := 0; i < 120; i++ {
		records = append(records, types.MetricsRecord{
			EntityID:  types.EntityID(fmt.Sprintf("ct-bulk-%03d", i)),
			Date:      "2025-02-03",
			Views:     int64p(int64(i)),
			FetchedAt: time.Now().UTC(),
		})
	}
	require.NoError(t, store.BulkUpsert(ctx, records))

	for _, i := range []int{0, 24, 25, 99, 119} {
		got, err := store.GetMetrics(ctx, types.EntityID(fmt.Sprintf("ct-bulk-%03d", i)), "2025-02-03")
		require.NoError(t, err)
		require.NotNil(t, got, "record %d", i)
		assert.Equal(t, int64(i), *got.Views)
	}
}

// TestCheckpoints verifies checkpoint put, overwrite and not-found.
func TestCheckpoints(t *testing.T, store provider.Store) {
	ctx := context.Background()

	_, ok, err := store.GetCheckpoint(ctx, "ct-job-missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.PutCheckpoint(ctx, "ct-job", "2025-01-03"))
	require.NoError(t, store.PutCheckpoint(ctx, "ct-job", "2025-01-04"))

	date, ok, err := store.GetCheckpoint(ctx, "ct-job")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2025-01-04", date)
}
