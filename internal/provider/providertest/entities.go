package providertest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/tally/internal/provider"
	"github.com/dwsmith1983/tally/pkg/types"
)

var base = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

// TestEntityOrdering verifies entities come back by publication time, then ID.
func TestEntityOrdering(t *testing.T, store provider.Store) {
	ctx := context.Background()

	require.NoError(t, store.AddEntities(ctx, []types.Entity{
		{ID: "ct-order-c", PublishedAt: base.Add(2 * time.Hour)},
		{ID: "ct-order-b", PublishedAt: base},
		{ID: "ct-order-a", PublishedAt: base},
	}))

	ids, err := store.ListEntities(ctx, nil)
	require.NoError(t, err)

	got := filter(ids, "ct-order-")
	assert.Equal(t, []types.EntityID{"ct-order-a", "ct-order-b", "ct-order-c"}, got)
}

// TestEntityCutoff verifies the cutoff is inclusive.
func TestEntityCutoff(t *testing.T, store provider.Store) {
	ctx := context.Background()

	require.NoError(t, store.AddEntities(ctx, []types.Entity{
		{ID: "ct-cut-early", PublishedAt: base.Add(-48 * time.Hour)},
		{ID: "ct-cut-edge", PublishedAt: base},
		{ID: "ct-cut-late", PublishedAt: base.Add(time.Second)},
	}))

	cutoff := base
	ids, err := store.ListEntities(ctx, &cutoff)
	require.NoError(t, err)

	got := filter(ids, "ct-cut-")
	assert.Equal(t, []types.EntityID{"ct-cut-early", "ct-cut-edge"}, got)
}

func filter(ids []types.EntityID, prefix string) []types.EntityID {
	var out []types.EntityID
	for _, id := range ids {
		if len(id) >= len(prefix) && string(id[:len(prefix)]) == prefix {
			out = append(out, id)
		}
	}
	return out
}
