// Package channel holds the named channels of a connection and their
// attachment state.
package channel

import (
	"fmt"

	"github.com/tsarna/realtime/pkg/realtime/bus"
	"github.com/tsarna/realtime/pkg/realtime/enum"
	"github.com/tsarna/realtime/pkg/realtime/protocol"
	"github.com/tsarna/realtime/pkg/realtime/state"
	"go.uber.org/zap"
)

// State is the attachment state of a channel.
type State string

const (
	StateInitialized State = "initialized"
	StateAttaching   State = "attaching"
	StateAttached    State = "attached"
	StateDetaching   State = "detaching"
	StateDetached    State = "detached"
	StateSuspended   State = "suspended"
	StateFailed      State = "failed"
)

// States is the closed set of channel states.
var States = enum.New[State]("channel state",
	StateInitialized,
	StateAttaching,
	StateAttached,
	StateDetaching,
	StateDetached,
	StateSuspended,
	StateFailed,
)

// EventMessage is the only event on a channel's inbound bus.
const EventMessage = "message"

// Target is what the dispatcher needs from a channel. Both *Channel and
// NullChannel satisfy it.
type Target interface {
	Name() string
	State() State
	TransitionTo(s State, args ...any) error
	EmitError(args ...any) error
	Deliver(msg *protocol.Message) error
}

// Channel is a named stream of messages with its own state machine.
type Channel struct {
	*state.Emitter[State]

	name     string
	incoming *bus.Bus
	logger   *zap.Logger
}

var _ Target = (*Channel)(nil)

// New creates a channel in the initialized state.
func New(name string, logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("channel", name))

	return &Channel{
		Emitter: state.NewEmitter(fmt.Sprintf("channel %s", name), States, StateInitialized, logger),
		name:    name,
		incoming: bus.NewBus().
			WithName(fmt.Sprintf("channel %s messages", name)).
			WithLogger(logger).
			WithVocabulary(EventMessage).
			MustBuild(),
		logger: logger,
	}
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return c.name
}

// Incoming returns the bus that delivered messages are published on.
func (c *Channel) Incoming() *bus.Bus {
	return c.incoming
}

// Deliver publishes msg to the channel's subscribers. A nil msg is ignored.
func (c *Channel) Deliver(msg *protocol.Message) error {
	if msg == nil {
		return nil
	}
	return c.incoming.Publish(EventMessage, msg)
}

// SubscribeMessages registers fn for every message delivered to the channel.
func (c *Channel) SubscribeMessages(fn func(msg *protocol.Message) error) (bus.Subscription, error) {
	if fn == nil {
		return bus.Subscription{}, fmt.Errorf("channel %s: nil message handler", c.name)
	}
	return c.incoming.Subscribe(EventMessage, func(event string, args ...any) error {
		for _, arg := range args {
			if msg, ok := arg.(*protocol.Message); ok && msg != nil {
				if err := fn(msg); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// UnsubscribeMessages removes a handler added with SubscribeMessages.
func (c *Channel) UnsubscribeMessages(sub bus.Subscription) error {
	return c.incoming.Unsubscribe(EventMessage, sub)
}

// NullChannel stands in for a channel the registry does not know. Every
// operation succeeds and does nothing.
type NullChannel struct {
	name string
}

var _ Target = NullChannel{}

// NewNullChannel returns a NullChannel reporting name.
func NewNullChannel(name string) NullChannel {
	return NullChannel{name: name}
}

func (n NullChannel) Name() string { return n.name }

func (n NullChannel) State() State { return StateInitialized }

func (n NullChannel) TransitionTo(s State, args ...any) error { return nil }

func (n NullChannel) EmitError(args ...any) error { return nil }

func (n NullChannel) Deliver(msg *protocol.Message) error { return nil }
