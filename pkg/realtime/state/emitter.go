package state

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tsarna/realtime/pkg/realtime/bus"
	"github.com/tsarna/realtime/pkg/realtime/enum"
	"go.uber.org/zap"
)

// EventError is the non-state event carried by every state bus.
const EventError = "error"

var (
	// ErrUnexpectedState is returned by WaitFor when the entity moves to a
	// state outside the awaited set.
	ErrUnexpectedState = errors.New("unexpected state transition")
	// ErrUnknownPredicate is returned by Check for names without a declared state.
	ErrUnknownPredicate = errors.New("unknown state predicate")
)

// Emitter holds the current state of an entity and publishes every change
// on a bus whose vocabulary is the declared states plus EventError.
type Emitter[S ~string] struct {
	states *enum.Set[S]
	events *bus.Bus
	logger *zap.Logger

	mu      sync.Mutex
	current S

	// afterStore runs between storing a new state and publishing it.
	afterStore func()
}

// NewEmitter creates an Emitter in the initial state. It panics if initial
// is not declared in states.
func NewEmitter[S ~string](name string, states *enum.Set[S], initial S, logger *zap.Logger) *Emitter[S] {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !states.Contains(initial) {
		panic(fmt.Sprintf("state %s: initial state %q is not a %s", name, initial, states.Name()))
	}

	return &Emitter[S]{
		states: states,
		events: bus.NewBus().
			WithName(name).
			WithLogger(logger).
			WithVocabulary(states.Names()...).
			WithVocabulary(EventError).
			MustBuild(),
		logger:  logger,
		current: initial,
	}
}

// States returns the declared state set.
func (e *Emitter[S]) States() *enum.Set[S] {
	return e.states
}

// Events returns the underlying state bus.
func (e *Emitter[S]) Events() *bus.Bus {
	return e.events
}

// State returns the current state.
func (e *Emitter[S]) State() S {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Is reports whether the current state is s.
func (e *Emitter[S]) Is(s S) bool {
	return e.State() == s
}

// Check evaluates a derived predicate such as "IsConnected".
func (e *Emitter[S]) Check(predicate string) (bool, error) {
	s, ok := e.states.Predicate(predicate)
	if !ok {
		return false, fmt.Errorf("%w: %s has no predicate %q", ErrUnknownPredicate, e.states.Name(), predicate)
	}
	return e.Is(s), nil
}

// TransitionTo moves the entity to s and publishes s with args. It is a
// no-op when s is already the current state.
func (e *Emitter[S]) TransitionTo(s S, args ...any) error {
	if !e.states.Contains(s) {
		return fmt.Errorf("%w: %q is not a %s", enum.ErrInvalidValue, s, e.states.Name())
	}

	e.mu.Lock()
	if e.current == s {
		e.mu.Unlock()
		return nil
	}
	// the recipients are fixed together with the new state, so a waiter
	// registered after this point never sees this transition
	publication, err := e.events.Prepare(string(s))
	if err != nil {
		e.mu.Unlock()
		return err
	}
	previous := e.current
	e.current = s
	e.mu.Unlock()

	if e.afterStore != nil {
		e.afterStore()
	}

	e.logger.Debug("State transition",
		zap.String("entity", e.events.Name()),
		zap.String("from", string(previous)),
		zap.String("to", string(s)))

	return publication.Publish(args...)
}

// EmitError publishes an error event without changing state.
func (e *Emitter[S]) EmitError(args ...any) error {
	return e.events.Publish(EventError, args...)
}

// Subscribe registers handler for a state name or EventError.
func (e *Emitter[S]) Subscribe(event string, handler bus.Handler) (bus.Subscription, error) {
	return e.events.Subscribe(event, handler)
}

// Once registers handler for the next occurrence of event.
func (e *Emitter[S]) Once(event string, handler bus.Handler) (bus.Subscription, error) {
	return e.events.Once(event, handler)
}

// Unsubscribe removes a handler registered with Subscribe or Once.
func (e *Emitter[S]) Unsubscribe(event string, sub bus.Subscription) error {
	return e.events.Unsubscribe(event, sub)
}

// OnceOrIf calls onSuccess as soon as the entity is in one of targets. If it
// already is, onSuccess runs immediately and no handler is registered.
// Only transitions made after the call can settle it, even when another
// goroutine is still publishing an earlier one.
//
// If onFailure is not nil it is called instead when the entity moves to a
// state outside targets. Exactly one of the two callbacks runs, and every
// handler registered by the call is removed when it does.
func (e *Emitter[S]) OnceOrIf(targets []S, onSuccess func(args ...any) error, onFailure func(state S, args ...any) error) (*Waiter, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("state %s: no target states", e.events.Name())
	}
	if onSuccess == nil {
		return nil, fmt.Errorf("state %s: nil success callback", e.events.Name())
	}

	wanted := make(map[S]struct{}, len(targets))
	for _, s := range targets {
		if !e.states.Contains(s) {
			return nil, fmt.Errorf("%w: %q is not a %s", enum.ErrInvalidValue, s, e.states.Name())
		}
		wanted[s] = struct{}{}
	}

	w := newWaiter(e.events)

	e.mu.Lock()
	if _, ok := wanted[e.current]; ok {
		e.mu.Unlock()
		w.settle()
		return w, onSuccess()
	}

	for s := range e.states.All() {
		_, isTarget := wanted[s]
		switch {
		case isTarget:
			w.add(string(s), func(event string, args ...any) error {
				if !w.settle() {
					return nil
				}
				return onSuccess(args...)
			})
		case onFailure != nil:
			w.add(string(s), func(event string, args ...any) error {
				if !w.settle() {
					return nil
				}
				return onFailure(S(event), args...)
			})
		}
	}
	e.mu.Unlock()

	if w.err != nil {
		return nil, w.err
	}
	return w, nil
}

// OnceStateChanged calls handler once, on the next transition to any state.
func (e *Emitter[S]) OnceStateChanged(handler func(state S, args ...any) error) (*Waiter, error) {
	if handler == nil {
		return nil, fmt.Errorf("state %s: nil handler", e.events.Name())
	}

	w := newWaiter(e.events)
	for s := range e.states.All() {
		w.add(string(s), func(event string, args ...any) error {
			if !w.settle() {
				return nil
			}
			return handler(S(event), args...)
		})
	}

	if w.err != nil {
		return nil, w.err
	}
	return w, nil
}

// WaitFor blocks until the entity reaches one of targets, moves to another
// state, or ctx is done. On an unexpected transition the returned error wraps
// ErrUnexpectedState and, when the transition carried one, the error argument.
func (e *Emitter[S]) WaitFor(ctx context.Context, targets ...S) error {
	result := make(chan error, 1)

	w, err := e.OnceOrIf(targets,
		func(args ...any) error {
			result <- nil
			return nil
		},
		func(s S, args ...any) error {
			result <- transitionError(s, args)
			return nil
		},
	)
	if err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		w.Cancel()
		// the registration may have settled concurrently with cancellation
		select {
		case err := <-result:
			return err
		default:
		}
		return ctx.Err()
	}
}

func transitionError[S ~string](s S, args []any) error {
	for _, arg := range args {
		if err, ok := arg.(error); ok && err != nil {
			return fmt.Errorf("%w: %s: %w", ErrUnexpectedState, s, err)
		}
	}
	return fmt.Errorf("%w: %s", ErrUnexpectedState, s)
}
