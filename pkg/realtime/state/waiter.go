package state

import (
	"sync"
	"sync/atomic"

	"github.com/tsarna/realtime/pkg/realtime/bus"
)

// Waiter is the handle returned by OnceOrIf and OnceStateChanged. It settles
// exactly once, either when one of its callbacks fires or when it is
// cancelled, and unregisters all of its handlers at that point.
type Waiter struct {
	events  *bus.Bus
	settled atomic.Bool
	done    chan struct{}
	err     error

	mu   sync.Mutex
	subs []bus.Subscription
}

func newWaiter(events *bus.Bus) *Waiter {
	return &Waiter{
		events: events,
		done:   make(chan struct{}),
	}
}

func (w *Waiter) add(event string, handler bus.Handler) {
	if w.err != nil {
		return
	}

	sub, err := w.events.Subscribe(event, handler)
	if err != nil {
		w.err = err
		w.Cancel()
		return
	}

	w.mu.Lock()
	w.subs = append(w.subs, sub)
	w.mu.Unlock()
}

// settle marks the waiter settled and removes its handlers. It returns false
// if the waiter had already settled.
func (w *Waiter) settle() bool {
	if !w.settled.CompareAndSwap(false, true) {
		return false
	}

	w.mu.Lock()
	subs := w.subs
	w.subs = nil
	w.mu.Unlock()

	for _, sub := range subs {
		_ = w.events.Unsubscribe(sub.Event(), sub)
	}

	close(w.done)
	return true
}

// Cancel withdraws the registration. Neither callback will run afterwards.
// Cancelling a settled waiter has no effect.
func (w *Waiter) Cancel() {
	w.settle()
}

// Settled reports whether a callback has fired or the waiter was cancelled.
func (w *Waiter) Settled() bool {
	return w.settled.Load()
}

// Done is closed when the waiter settles.
func (w *Waiter) Done() <-chan struct{} {
	return w.done
}
