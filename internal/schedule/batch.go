package schedule

import (
	"time"

	"github.com/dwsmith1983/tally/internal/quota"
)

// BatchScheduler sizes concurrent rounds from the tracker's utilization.
type BatchScheduler struct {
	tracker *quota.Tracker
	// MinDelay is a floor on the delay between rounds.
	MinDelay time.Duration
}

// NewBatchScheduler creates a BatchScheduler over tracker.
func NewBatchScheduler(tracker *quota.Tracker) *BatchScheduler {
	return &BatchScheduler{tracker: tracker}
}

// NextBatchSize returns how many entities to launch in the next round. The
// band's batch size is clamped to the remaining headroom under the target
// utilization and to remaining. Zero means wait InterRoundDelay and ask again.
func (s *BatchScheduler) NextBatchSize(remaining int) int {
	if remaining <= 0 {
		return 0
	}
	snap := s.tracker.Snapshot()
	size := s.tracker.BandFor(snap.Utilization).BatchSize
	if h := s.tracker.Headroom(); size > h {
		size = h
	}
	if size > remaining {
		size = remaining
	}
	if size < 0 {
		return 0
	}
	return size
}

// InterRoundDelay returns the pause before the next round.
func (s *BatchScheduler) InterRoundDelay() time.Duration {
	d := s.tracker.RecommendedDelay()
	if d < s.MinDelay {
		return s.MinDelay
	}
	return d
}
