package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
)

// WaitFor polls check every 10ms until it returns true or timeout is reached.
func WaitFor(t *testing.T, timeout time.Duration, check func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for condition: %s", msg)
}

// RecordingSleeper records requested waits instead of blocking. With a mock
// clock set, each wait advances it.
type RecordingSleeper struct {
	mu    sync.Mutex
	Clock *quartz.Mock
	waits []time.Duration
}

// Sleep records d and returns the context's error.
func (s *RecordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	if s.Clock != nil && d > 0 {
		s.Clock.Advance(d)
	}
	return ctx.Err()
}

// Waits returns a copy of the recorded waits.
func (s *RecordingSleeper) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

// Total returns the sum of the recorded waits.
func (s *RecordingSleeper) Total() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total time.Duration
	for _, w := range s.waits {
		total += w
	}
	return total
}
