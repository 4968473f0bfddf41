package progress

import (
	"sync"

	"github.com/coder/quartz"

	"github.com/dwsmith1983/tally/internal/quota"
	"github.com/dwsmith1983/tally/pkg/types"
)

// Notifier delivers reports to handlers on its own goroutine. It keeps a
// single pending slot: a snapshot published while the previous one is still
// being handled replaces any undelivered one, so Publish never blocks.
type Notifier struct {
	tracker  *quota.Tracker
	clock    quartz.Clock
	handlers []func(Report)

	mu      sync.Mutex
	pending *types.RunProgress
	closed  bool

	wake chan struct{}
	done chan struct{}
}

// NewNotifier starts a Notifier. tracker may be nil.
func NewNotifier(tracker *quota.Tracker, clock quartz.Clock, handlers ...func(Report)) *Notifier {
	if clock == nil {
		clock = quartz.NewReal()
	}
	n := &Notifier{
		tracker:  tracker,
		clock:    clock,
		handlers: handlers,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go n.loop()
	return n
}

// Publish queues p for delivery. It is safe to pass as the collector's
// progress callback.
func (n *Notifier) Publish(p types.RunProgress) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.pending = &p
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// Close delivers the pending snapshot, if any, and stops the goroutine.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		<-n.done
		return
	}
	n.closed = true
	n.mu.Unlock()
	close(n.wake)
	<-n.done
}

func (n *Notifier) loop() {
	defer close(n.done)
	for range n.wake {
		n.drain()
	}
	n.drain()
}

func (n *Notifier) drain() {
	n.mu.Lock()
	p := n.pending
	n.pending = nil
	n.mu.Unlock()
	if p == nil {
		return
	}

	var snap quota.Snapshot
	if n.tracker != nil {
		snap = n.tracker.Snapshot()
	}
	r := Build(*p, snap, n.clock.Now("progress", "build"))
	for _, h := range n.handlers {
		h(r)
	}
}
