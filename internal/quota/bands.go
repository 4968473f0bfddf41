// Package quota tracks API request usage over a sliding one-minute window
// and derives pacing decisions from it.
package quota

import (
	"fmt"
	"time"

	"github.com/dwsmith1983/tally/pkg/types"
)

// Band maps a utilization range to a pacing delay and a batch size. A band
// applies while utilization is strictly below Below. The last band catches
// everything above the previous one.
type Band struct {
	Below     float64
	Delay     time.Duration
	BatchSize int
}

// DefaultBands returns the default utilization bands.
func DefaultBands() []Band {
	return []Band{
		{Below: 0.20, Delay: 50 * time.Millisecond, BatchSize: 100},
		{Below: 0.40, Delay: 100 * time.Millisecond, BatchSize: 75},
		{Below: 0.60, Delay: 200 * time.Millisecond, BatchSize: 50},
		{Below: 0.75, Delay: 500 * time.Millisecond, BatchSize: 30},
		{Below: 0.80, Delay: 1 * time.Second, BatchSize: 20},
		{Below: 0.85, Delay: 2 * time.Second, BatchSize: 15},
		{Below: 0.90, Delay: 3 * time.Second, BatchSize: 10},
		{Below: 0.95, Delay: 5 * time.Second, BatchSize: 5},
		{Below: 1.00, Delay: 10 * time.Second, BatchSize: 5},
	}
}

// ParseBands converts configured bands. An empty input yields DefaultBands.
func ParseBands(cfg []types.Band) ([]Band, error) {
	if len(cfg) == 0 {
		return DefaultBands(), nil
	}
	bands := make([]Band, 0, len(cfg))
	for i, b := range cfg {
		d, err := time.ParseDuration(b.Delay)
		if err != nil {
			return nil, fmt.Errorf("band %d: invalid delay %q: %w", i, b.Delay, err)
		}
		bands = append(bands, Band{Below: b.Below, Delay: d, BatchSize: b.BatchSize})
	}
	if err := ValidateBands(bands); err != nil {
		return nil, err
	}
	return bands, nil
}

// ValidateBands checks that the table is ordered by utilization, that delays
// never decrease and batch sizes never increase as utilization rises.
func ValidateBands(bands []Band) error {
	if len(bands) == 0 {
		return fmt.Errorf("at least one band is required")
	}
	for i, b := range bands {
		if b.BatchSize < 1 {
			return fmt.Errorf("band %d: batchSize must be positive", i)
		}
		if b.Delay < 0 {
			return fmt.Errorf("band %d: delay must not be negative", i)
		}
		if i == 0 {
			continue
		}
		prev := bands[i-1]
		if b.Below <= prev.Below {
			return fmt.Errorf("band %d: below %.2f must exceed previous band's %.2f", i, b.Below, prev.Below)
		}
		if b.Delay < prev.Delay {
			return fmt.Errorf("band %d: delay %s is shorter than previous band's %s", i, b.Delay, prev.Delay)
		}
		if b.BatchSize > prev.BatchSize {
			return fmt.Errorf("band %d: batchSize %d is larger than previous band's %d", i, b.BatchSize, prev.BatchSize)
		}
	}
	return nil
}

// bandFor returns the band covering the given utilization.
func bandFor(bands []Band, utilization float64) Band {
	for _, b := range bands {
		if utilization < b.Below {
			return b
		}
	}
	return bands[len(bands)-1]
}
