// Package progress turns run progress into operator-facing reports and
// delivers them without blocking the collector.
package progress

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dwsmith1983/tally/internal/quota"
	"github.com/dwsmith1983/tally/pkg/types"
)

// Report is a progress snapshot enriched with rates and an ETA.
type Report struct {
	types.RunProgress
	Remaining        int     `json:"remaining"`
	DaysRemaining    int     `json:"daysRemaining"`
	SuccessRate      float64 `json:"successRate"`
	UtilizationPct   float64 `json:"utilizationPct"`
	RequestsInWindow int     `json:"requestsInWindow"`
	RecommendedDelay string  `json:"recommendedDelay"`
	ElapsedSeconds   float64 `json:"elapsedSeconds"`
	ETASeconds       float64 `json:"etaSeconds"`
}

// Build derives a Report. The ETA extrapolates the mean time per processed
// entity plus the current pacing delay over the remaining entities; it is
// zero until something has been processed. For a backfill, Remaining and the
// ETA cover the whole range: each day after the current one is assumed to
// hold as many entities as the current day.
func Build(p types.RunProgress, snap quota.Snapshot, now time.Time) Report {
	daysLeft := daysAfter(p.Date, p.To)
	r := Report{
		RunProgress:      p.Clone(),
		Remaining:        p.Remaining() + daysLeft*p.DayEntities,
		DaysRemaining:    daysLeft,
		UtilizationPct:   snap.Utilization * 100,
		RequestsInWindow: snap.Count,
		RecommendedDelay: snap.RecommendedDelay.String(),
	}

	elapsed := now.Sub(p.StartedAt)
	if p.StartedAt.IsZero() || elapsed < 0 {
		elapsed = 0
	}
	r.ElapsedSeconds = elapsed.Seconds()

	if p.Processed == 0 {
		return r
	}
	r.SuccessRate = float64(p.Succeeded+p.NoData) / float64(p.Processed)

	perEntityMs := float64(elapsed.Milliseconds()) / float64(p.Processed)
	delayMs := float64(snap.RecommendedDelay.Milliseconds())
	r.ETASeconds = float64(r.Remaining) * (perEntityMs + delayMs) / 1000
	return r
}

// daysAfter counts the days in (date, to]. It is zero outside a backfill.
func daysAfter(date, to string) int {
	if date == "" || to == "" {
		return 0
	}
	d, err := time.Parse(types.DateLayout, date)
	if err != nil {
		return 0
	}
	end, err := time.Parse(types.DateLayout, to)
	if err != nil || !end.After(d) {
		return 0
	}
	return int(end.Sub(d).Hours() / 24)
}

// LogCallback returns a report handler that logs each report.
func LogCallback(logger *slog.Logger) func(Report) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(r Report) {
		logger.Info("progress",
			"runId", r.RunID,
			"date", r.Date,
			"processed", r.Processed,
			"total", r.TotalEntities,
			"succeeded", r.Succeeded,
			"failed", r.Failed,
			"utilization", r.UtilizationPct,
			"daysRemaining", r.DaysRemaining,
			"etaSeconds", r.ETASeconds,
		)
	}
}

// Latest holds the most recent report for the ops server.
type Latest struct {
	mu     sync.RWMutex
	report *Report
}

// Set stores r.
func (l *Latest) Set(r Report) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.report = &r
}

// Get returns the last report and whether one has been stored.
func (l *Latest) Get() (Report, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.report == nil {
		return Report{}, false
	}
	return *l.report, true
}
