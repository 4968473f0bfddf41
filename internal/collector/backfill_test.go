package collector

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/tally/pkg/types"
)

func TestBackfill_ImportsEachDay(t *testing.T) {
	env := newEnv(t, 12, okAPI)

	p, err := env.collector.Backfill(context.Background(), day1, day3)
	require.NoError(t, err)

	assert.Equal(t, "2025-03-01", p.From)
	assert.Equal(t, "2025-03-03", p.To)
	assert.Equal(t, 3, p.DaysCompleted)
	assert.Equal(t, 36, p.TotalEntities)
	assert.Equal(t, 12, p.DayEntities)
	assert.Equal(t, 36, p.Persisted)
	for _, d := range []string{"2025-03-01", "2025-03-02", "2025-03-03"} {
		assert.Len(t, env.store.Records(d), 12, d)
		assert.Equal(t, 12, env.fetched[d], d)
	}

	cp, ok, err := env.store.GetCheckpoint(context.Background(), JobName(day1, day3))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2025-03-03", cp)
}

func TestBackfill_FatalOnDayThenResume(t *testing.T) {
	var broken atomic.Bool
	broken.Store(true)
	env := newEnv(t, 6, func(_ types.EntityID, date, _ string) (int, string) {
		if date == "2025-03-03" && broken.Load() {
			return http.StatusBadRequest, `{"error":"invalid date"}`
		}
		return http.StatusOK, rowsBody(2)
	})

	p, err := env.collector.Backfill(context.Background(), day1, day5, WithJob("march"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFatal)
	assert.Contains(t, err.Error(), "backfill day 2025-03-03")
	assert.True(t, p.Aborted)
	assert.Equal(t, 2, p.DaysCompleted)
	assert.Len(t, env.store.Records("2025-03-01"), 6)
	assert.Len(t, env.store.Records("2025-03-02"), 6)

	cp, ok, err := env.store.GetCheckpoint(context.Background(), "march")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2025-03-02", cp)

	broken.Store(false)
	before := map[string]int{}
	env.mu.Lock()
	for k, v := range env.fetched {
		before[k] = v
	}
	env.mu.Unlock()

	p, err = env.collector.Backfill(context.Background(), day1, day5, WithJob("march"), WithResume())
	require.NoError(t, err)
	assert.Equal(t, 3, p.DaysCompleted)

	env.mu.Lock()
	defer env.mu.Unlock()
	assert.Equal(t, before["2025-03-01"], env.fetched["2025-03-01"], "day 1 was reprocessed")
	assert.Equal(t, before["2025-03-02"], env.fetched["2025-03-02"], "day 2 was reprocessed")
	assert.Equal(t, 6, env.fetched["2025-03-05"])
	assert.Len(t, env.store.Records("2025-03-05"), 6)
}

func TestBackfill_ResumeWhenComplete(t *testing.T) {
	env := newEnv(t, 2, okAPI)
	require.NoError(t, env.store.PutCheckpoint(context.Background(), "done", "2025-03-05"))

	p, err := env.collector.Backfill(context.Background(), day1, day5, WithJob("done"), WithResume())
	require.NoError(t, err)
	assert.Zero(t, p.DaysCompleted)
	assert.Empty(t, env.fetched)
}

func TestBackfill_RefreshesAfterDayWithAuthFailures(t *testing.T) {
	env := newEnv(t, 4, func(entity types.EntityID, _, token string) (int, string) {
		if token == "t1" && entity == "e-002" {
			return http.StatusUnauthorized, ""
		}
		return http.StatusOK, rowsBody(1)
	}, "t2", "t3")

	p, err := env.collector.Backfill(context.Background(), day1, day2)
	require.NoError(t, err)
	assert.Equal(t, 2, p.DaysCompleted)
	assert.GreaterOrEqual(t, p.AuthFailures, 1)
	assert.Equal(t, 2, env.refresher.Calls())
	assert.Equal(t, "t3", env.creds.Current().Token)
}

func TestBackfill_ProactiveRefreshReturnsSameToken(t *testing.T) {
	env := newEnv(t, 4, func(entity types.EntityID, _, token string) (int, string) {
		if token == "t1" {
			return http.StatusUnauthorized, ""
		}
		return http.StatusOK, rowsBody(1)
	}, "t2", "t2")

	p, err := env.collector.Backfill(context.Background(), day1, day3)
	require.NoError(t, err)
	assert.Equal(t, 3, p.DaysCompleted)
	assert.False(t, p.Aborted)
	assert.Equal(t, 12, p.Succeeded)
	assert.False(t, env.creds.Failed())
	assert.Equal(t, "t2", env.creds.Current().Token)
	assert.Equal(t, 2, env.creds.Current().Version)
	assert.Equal(t, 2, env.refresher.Calls())
}

func TestBackfill_ProactiveRefreshFailureAborts(t *testing.T) {
	env := newEnv(t, 3, func(entity types.EntityID, _, token string) (int, string) {
		if token == "t1" && entity == "e-000" {
			return http.StatusUnauthorized, ""
		}
		return http.StatusOK, rowsBody(1)
	}, "t2")

	p, err := env.collector.Backfill(context.Background(), day1, day3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFatal)
	assert.Equal(t, 1, p.DaysCompleted)
	assert.True(t, p.Aborted)
}

func TestBackfill_InvertedRange(t *testing.T) {
	env := newEnv(t, 1, okAPI)
	_, err := env.collector.Backfill(context.Background(), day3, day1)
	assert.Error(t, err)
}

func TestBackfill_ResumeWithoutCheckpointStore(t *testing.T) {
	env := newEnv(t, 1, okAPI)
	env.collector.checkpoints = nil
	_, err := env.collector.Backfill(context.Background(), day1, day2, WithResume())
	assert.Error(t, err)
}

func TestDedup_LastWins(t *testing.T) {
	v1, v2 := int64(1), int64(2)
	records := []types.MetricsRecord{
		{EntityID: "a", Date: "2025-03-01", Views: &v1},
		{EntityID: "b", Date: "2025-03-01", Views: &v1},
		{EntityID: "a", Date: "2025-03-01", Views: &v2},
		{EntityID: "a", Date: "2025-03-02", Views: &v1},
	}

	got := Dedup(records)
	require.Len(t, got, 3)
	assert.Equal(t, types.EntityID("a"), got[0].EntityID)
	assert.Equal(t, int64(2), *got[0].Views)
	assert.Equal(t, types.EntityID("b"), got[1].EntityID)
	assert.Equal(t, "2025-03-02", got[2].Date)
}

func TestJobName(t *testing.T) {
	assert.Equal(t, "backfill_2025-03-01_2025-03-05", JobName(day1, day5))
}
