package quota

import (
	"math"
	"sync"
	"time"

	"github.com/coder/quartz"
)

// Window is the length of the sliding quota window.
const Window = time.Minute

// DefaultTargetUtilization is the share of the ceiling the scheduler aims
// to stay under.
const DefaultTargetUtilization = 0.80

// Config configures a Tracker.
type Config struct {
	CeilingPerMinute  int
	TargetUtilization float64
	Bands             []Band
	Clock             quartz.Clock
}

// Tracker keeps the timestamps of requests issued in the trailing minute.
// All methods are safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	clock   quartz.Clock
	ceiling int
	target  float64
	bands   []Band
	stamps  []time.Time
}

// Snapshot is a point-in-time view of the tracker.
type Snapshot struct {
	Count            int           `json:"count"`
	Ceiling          int           `json:"ceiling"`
	Utilization      float64       `json:"utilization"`
	RecommendedDelay time.Duration `json:"recommendedDelay"`
}

// NewTracker creates a Tracker. Missing settings fall back to defaults.
func NewTracker(cfg Config) *Tracker {
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewReal()
	}
	if cfg.CeilingPerMinute <= 0 {
		cfg.CeilingPerMinute = 720
	}
	if cfg.TargetUtilization <= 0 || cfg.TargetUtilization > 1 {
		cfg.TargetUtilization = DefaultTargetUtilization
	}
	if len(cfg.Bands) == 0 {
		cfg.Bands = DefaultBands()
	}
	return &Tracker{
		clock:   cfg.Clock,
		ceiling: cfg.CeilingPerMinute,
		target:  cfg.TargetUtilization,
		bands:   cfg.Bands,
	}
}

// RecordRequest appends the current time to the window.
func (t *Tracker) RecordRequest() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stamps = append(t.stamps, t.clock.Now("quota", "record"))
}

// CountInWindow returns the number of requests issued in the trailing
// minute and drops older entries.
func (t *Tracker) CountInWindow() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.countLocked()
}

func (t *Tracker) countLocked() int {
	now := t.clock.Now("quota", "count")
	i := 0
	for i < len(t.stamps) && now.Sub(t.stamps[i]) >= Window {
		i++
	}
	if i > 0 {
		t.stamps = append(t.stamps[:0], t.stamps[i:]...)
	}
	return len(t.stamps)
}

// Ceiling returns the configured per-minute request ceiling.
func (t *Tracker) Ceiling() int {
	return t.ceiling
}

// Target returns the target utilization.
func (t *Tracker) Target() float64 {
	return t.target
}

// Utilization returns the trailing-minute count as a share of the ceiling.
func (t *Tracker) Utilization() float64 {
	return float64(t.CountInWindow()) / float64(t.ceiling)
}

// RecommendedDelay returns the pacing delay for the current utilization.
// The delay never decreases as utilization increases.
func (t *Tracker) RecommendedDelay() time.Duration {
	return t.Band().Delay
}

// Band returns the band matching the current utilization.
func (t *Tracker) Band() Band {
	return bandFor(t.bands, t.Utilization())
}

// BandFor returns the band matching the given utilization.
func (t *Tracker) BandFor(utilization float64) Band {
	return bandFor(t.bands, utilization)
}

// Headroom returns how many more requests fit under the target utilization
// in the current window. It is never negative.
func (t *Tracker) Headroom() int {
	limit := int(math.Floor(t.target * float64(t.ceiling)))
	if h := limit - t.CountInWindow(); h > 0 {
		return h
	}
	return 0
}

// Snapshot returns the current count, utilization and recommended delay.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	count := t.countLocked()
	t.mu.Unlock()
	util := float64(count) / float64(t.ceiling)
	return Snapshot{
		Count:            count,
		Ceiling:          t.ceiling,
		Utilization:      util,
		RecommendedDelay: bandFor(t.bands, util).Delay,
	}
}
