package quota

import (
	"fmt"
	"time"

	"github.com/dwsmith1983/tally/pkg/types"
)

// DailyCeiling returns the configured daily ceiling, or the per-minute
// ceiling sustained for a whole day when none is configured.
func DailyCeiling(cfg types.RateConfig) int {
	if cfg.DailyCeiling > 0 {
		return cfg.DailyCeiling
	}
	return cfg.CeilingPerMinute * 24 * 60
}

// Estimate plans the quota cost of collecting entityCount entities for every
// day between from and to inclusive. It assumes one request per entity-day;
// a percentage above 100 means the backfill needs more than one day of quota.
func Estimate(from, to time.Time, entityCount, dailyCeiling int) (types.QuotaEstimate, error) {
	if to.Before(from) {
		return types.QuotaEstimate{}, fmt.Errorf("range end %s is before start %s", to.Format(types.DateLayout), from.Format(types.DateLayout))
	}
	if entityCount < 0 {
		return types.QuotaEstimate{}, fmt.Errorf("entity count must not be negative")
	}

	days := int(truncateDay(to).Sub(truncateDay(from)).Hours()/24) + 1
	requests := days * entityCount

	est := types.QuotaEstimate{
		TotalDays:         days,
		TotalEntities:     entityCount,
		EstimatedRequests: requests,
	}
	if dailyCeiling > 0 {
		est.PercentOfDailyCeiling = float64(requests) / float64(dailyCeiling) * 100
	}
	return est, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
