package quota

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/tally/pkg/types"
)

func TestDefaultBandsAreValid(t *testing.T) {
	require.NoError(t, ValidateBands(DefaultBands()))
}

func TestParseBands_Empty(t *testing.T) {
	bands, err := ParseBands(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultBands(), bands)
}

func TestParseBands_Custom(t *testing.T) {
	bands, err := ParseBands([]types.Band{
		{Below: 0.5, Delay: "10ms", BatchSize: 40},
		{Below: 0.9, Delay: "1s", BatchSize: 10},
		{Below: 1.0, Delay: "30s", BatchSize: 1},
	})
	require.NoError(t, err)
	require.Len(t, bands, 3)
	assert.Equal(t, 10*time.Millisecond, bands[0].Delay)
	assert.Equal(t, 1, bands[2].BatchSize)
}

func TestParseBands_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		bands []types.Band
		want  string
	}{
		{
			name:  "bad duration",
			bands: []types.Band{{Below: 0.5, Delay: "soon", BatchSize: 1}},
			want:  "invalid delay",
		},
		{
			name: "decreasing delay",
			bands: []types.Band{
				{Below: 0.5, Delay: "1s", BatchSize: 10},
				{Below: 0.9, Delay: "500ms", BatchSize: 5},
			},
			want: "shorter than previous",
		},
		{
			name: "growing batch",
			bands: []types.Band{
				{Below: 0.5, Delay: "1s", BatchSize: 10},
				{Below: 0.9, Delay: "2s", BatchSize: 20},
			},
			want: "larger than previous",
		},
		{
			name: "unordered",
			bands: []types.Band{
				{Below: 0.5, Delay: "1s", BatchSize: 10},
				{Below: 0.4, Delay: "2s", BatchSize: 5},
			},
			want: "must exceed",
		},
		{
			name:  "zero batch",
			bands: []types.Band{{Below: 0.5, Delay: "1s", BatchSize: 0}},
			want:  "batchSize must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBands(tt.bands)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestGate_NilNeverBlocks(t *testing.T) {
	var g *Gate
	assert.NoError(t, g.Wait(context.Background()))
}

func TestGate_Burst(t *testing.T) {
	g := NewGate(60, 5)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 5; i++ {
		require.NoError(t, g.Wait(ctx))
	}
}
