package bus

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrInvalidEvent is returned when an event name is outside a bus's vocabulary.
var ErrInvalidEvent = errors.New("invalid event name")

// Handler receives the event name and the arguments it was published with.
type Handler func(event string, args ...any) error

// Subscription identifies a registered handler. The zero value is never
// returned by a successful Subscribe.
type Subscription struct {
	id    uint64
	event string
}

// Event returns the event name the subscription was registered for.
func (s Subscription) Event() string {
	return s.event
}

// IsZero reports whether s is the zero Subscription.
func (s Subscription) IsZero() bool {
	return s.id == 0
}

type entry struct {
	id      uint64
	handler Handler
	once    bool
	removed atomic.Bool
}

// Bus is a synchronous publish/subscribe mechanism restricted to a closed
// vocabulary of event names.
//
// Publish invokes handlers on the calling goroutine in subscription order.
// A handler may subscribe or unsubscribe while a publish is in flight: the
// publish works on a snapshot taken when it started, handlers added during
// it are not called and handlers removed during it are skipped.
type Bus struct {
	name       string
	logger     *zap.Logger
	vocabulary []string
	known      map[string]struct{}

	mu       sync.Mutex
	handlers map[string][]*entry
	nextID   uint64
}

// Name returns the bus name used in log output.
func (b *Bus) Name() string {
	return b.name
}

// Vocabulary returns the event names accepted by the bus.
func (b *Bus) Vocabulary() []string {
	out := make([]string, len(b.vocabulary))
	copy(out, b.vocabulary)
	return out
}

// Has reports whether event belongs to the vocabulary.
func (b *Bus) Has(event string) bool {
	_, ok := b.known[event]
	return ok
}

func (b *Bus) validate(event string) error {
	if !b.Has(event) {
		return fmt.Errorf("%w: %q is not accepted by bus %q", ErrInvalidEvent, event, b.name)
	}
	return nil
}

// Subscribe registers handler for event.
func (b *Bus) Subscribe(event string, handler Handler) (Subscription, error) {
	return b.add(event, handler, false)
}

// Once registers handler for a single delivery of event.
func (b *Bus) Once(event string, handler Handler) (Subscription, error) {
	return b.add(event, handler, true)
}

func (b *Bus) add(event string, handler Handler, once bool) (Subscription, error) {
	if err := b.validate(event); err != nil {
		return Subscription{}, err
	}
	if handler == nil {
		return Subscription{}, fmt.Errorf("bus %q: nil handler for %q", b.name, event)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	e := &entry{id: b.nextID, handler: handler, once: once}
	b.handlers[event] = append(b.handlers[event], e)

	return Subscription{id: e.id, event: event}, nil
}

// Unsubscribe removes a handler. Removing a handler that is not registered
// is not an error, but event must still belong to the vocabulary.
func (b *Bus) Unsubscribe(event string, sub Subscription) error {
	if err := b.validate(event); err != nil {
		return err
	}
	if sub.event != event {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.removeLocked(event, sub.id)
	return nil
}

func (b *Bus) removeLocked(event string, id uint64) {
	handlers := b.handlers[event]
	for i, e := range handlers {
		if e.id == id {
			e.removed.Store(true)
			b.handlers[event] = append(handlers[:i:i], handlers[i+1:]...)
			if len(b.handlers[event]) == 0 {
				delete(b.handlers, event)
			}
			return
		}
	}
}

// Publish delivers args to every handler registered for event. It returns
// the first handler error; later errors are logged.
func (b *Bus) Publish(event string, args ...any) error {
	p, err := b.Prepare(event)
	if err != nil {
		return err
	}
	return p.Publish(args...)
}

// Publication is a publish whose recipients were fixed by Prepare.
type Publication struct {
	bus      *Bus
	event    string
	snapshot []*entry
}

// Prepare captures the handlers currently registered for event. Handlers
// subscribed afterwards are not reached by the returned Publication, which
// lets a caller pin the recipient set while it holds its own lock and
// deliver after releasing it.
func (b *Bus) Prepare(event string) (*Publication, error) {
	if err := b.validate(event); err != nil {
		return nil, err
	}

	b.mu.Lock()
	snapshot := make([]*entry, len(b.handlers[event]))
	copy(snapshot, b.handlers[event])
	b.mu.Unlock()

	return &Publication{bus: b, event: event, snapshot: snapshot}, nil
}

// Publish delivers args to the captured handlers that are still registered.
// It returns the first handler error; later errors are logged.
func (p *Publication) Publish(args ...any) error {
	b := p.bus
	var publishError error

	for _, e := range p.snapshot {
		if e.removed.Load() {
			continue
		}

		if e.once {
			if !e.removed.CompareAndSwap(false, true) {
				continue
			}
			b.mu.Lock()
			b.removeLocked(p.event, e.id)
			b.mu.Unlock()
		}

		if err := e.handler(p.event, args...); err != nil {
			if publishError == nil {
				publishError = err
			} else {
				b.logger.Error("Additional handler error during publish",
					zap.String("bus", b.name),
					zap.String("event", p.event),
					zap.Error(err))
			}
		}
	}

	return publishError
}

// HandlerCount returns the number of handlers registered for event.
func (b *Bus) HandlerCount(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[event])
}
