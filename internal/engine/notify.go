package engine

import (
	"context"
	"sync"
)

// notifier is a coalescing single-value broadcast of the event counter.
// Each bump closes the current wait channel and installs a fresh one, so a
// lagging subscriber only ever observes the latest value.
type notifier struct {
	mu      sync.Mutex
	version uint64
	ch      chan struct{}
}

func newNotifier() *notifier {
	return &notifier{ch: make(chan struct{})}
}

func (n *notifier) bump() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.version++
	close(n.ch)
	n.ch = make(chan struct{})
	return n.version
}

func (n *notifier) current() (uint64, <-chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.version, n.ch
}

// Subscription observes the event counter of a Manager.
type Subscription struct {
	n    *notifier
	seen uint64
}

// Value returns the latest counter value.
func (s *Subscription) Value() uint64 {
	v, _ := s.n.current()
	return v
}

// Wait blocks until the counter advances past the last value returned by
// Wait (or the value at subscription time) and returns the new value.
func (s *Subscription) Wait(ctx context.Context) (uint64, error) {
	for {
		v, ch := s.n.current()
		if v > s.seen {
			s.seen = v
			return v, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return s.seen, ctx.Err()
		}
	}
}
