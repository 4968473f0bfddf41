package schedule

import (
	"context"
	"time"

	"github.com/coder/quartz"
)

// Sleeper blocks for d or until ctx is done, whichever comes first.
type Sleeper func(ctx context.Context, d time.Duration) error

// ClockSleeper returns a Sleeper backed by clock. A nil clock uses real time.
func ClockSleeper(clock quartz.Clock) Sleeper {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return func(ctx context.Context, d time.Duration) error {
		if d <= 0 {
			return ctx.Err()
		}
		timer := clock.NewTimer(d, "schedule", "sleep")
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}
}
