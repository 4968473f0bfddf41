package quota

import (
	"context"

	"golang.org/x/time/rate"
)

// Gate is a token bucket that caps the steady request rate at the hard
// per-minute ceiling. A nil Gate never blocks.
type Gate struct {
	limiter *rate.Limiter
}

// NewGate creates a Gate refilling at ceilingPerMinute/60 tokens per second.
func NewGate(ceilingPerMinute, burst int) *Gate {
	if burst < 1 {
		burst = 1
	}
	return &Gate{limiter: rate.NewLimiter(rate.Limit(float64(ceilingPerMinute)/60), burst)}
}

// Wait blocks until a request may be issued or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	if g == nil {
		return nil
	}
	return g.limiter.Wait(ctx)
}
