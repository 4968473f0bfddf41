// Package providertest provides shared conformance tests for provider.Store
// implementations. Call RunAll from a test function to verify a backend
// satisfies the full behavioral contract.
package providertest

import (
	"testing"

	"github.com/dwsmith1983/tally/internal/provider"
)

// RunAll runs the complete provider conformance suite as subtests.
func RunAll(t *testing.T, store provider.Store) {
	t.Helper()

	t.Run("EntityOrdering", func(t *testing.T) { TestEntityOrdering(t, store) })
	t.Run("EntityCutoff", func(t *testing.T) { TestEntityCutoff(t, store) })
	t.Run("UpsertAndGet", func(t *testing.T) { TestUpsertAndGet(t, store) })
	t.Run("UpsertLastWriteWins", func(t *testing.T) { TestUpsertLastWriteWins(t, store) })
	t.Run("UpsertLargeBatch", func(t *testing.T) { TestUpsertLargeBatch(t, store) })
	t.Run("Checkpoints", func(t *testing.T) { TestCheckpoints(t, store) })
}
