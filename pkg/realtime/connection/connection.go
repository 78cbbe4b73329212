// Package connection models a client's connection to the realtime service:
// its state machine, the inbound frame bus and the outbound send path.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/tsarna/realtime/pkg/realtime/ack"
	"github.com/tsarna/realtime/pkg/realtime/bus"
	"github.com/tsarna/realtime/pkg/realtime/enum"
	"github.com/tsarna/realtime/pkg/realtime/protocol"
	"github.com/tsarna/realtime/pkg/realtime/state"
	"go.uber.org/zap"
)

// State is the lifecycle state of a connection.
type State string

const (
	StateInitialized  State = "initialized"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateSuspended    State = "suspended"
	StateClosing      State = "closing"
	StateClosed       State = "closed"
	StateFailed       State = "failed"
)

// States is the closed set of connection states.
var States = enum.New[State]("connection state",
	StateInitialized,
	StateConnecting,
	StateConnected,
	StateDisconnected,
	StateSuspended,
	StateClosing,
	StateClosed,
	StateFailed,
)

// EventMessage is the only event on the inbound bus.
const EventMessage = "message"

var (
	// ErrNoTransport is returned by Send when no Sender is attached.
	ErrNoTransport = errors.New("connection has no transport")
	// ErrNilFrame is returned when a nil frame is sent or received.
	ErrNilFrame = errors.New("nil protocol message")
)

// Sender writes frames to the service.
type Sender interface {
	Send(ctx context.Context, pm *protocol.ProtocolMessage) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, pm *protocol.ProtocolMessage) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, pm *protocol.ProtocolMessage) error {
	return f(ctx, pm)
}

// Connection owns the state, inbound bus and pending acknowledgments of one
// connection. Frames received from the transport are published on the
// inbound bus, whose single subscriber is the dispatcher.
type Connection struct {
	*state.Emitter[State]

	incoming *bus.Bus
	pending  *ack.Queue
	logger   *zap.Logger

	// sendMu orders serial assignment and the write, so frames reach the
	// transport in msgSerial order.
	sendMu sync.Mutex

	mu         sync.Mutex
	id         string
	sender     Sender
	nextSerial int64
}

// New creates a connection in the initialized state.
func New(logger *zap.Logger) *Connection {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Connection{
		Emitter: state.NewEmitter("connection", States, StateInitialized, logger),
		incoming: bus.NewBus().
			WithName("connection inbound").
			WithLogger(logger).
			WithVocabulary(EventMessage).
			MustBuild(),
		pending: ack.NewQueue(logger),
		logger:  logger,
	}
}

// ID returns the connection id assigned by the service, if any.
func (c *Connection) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// SetID records the connection id assigned by the service.
func (c *Connection) SetID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = id
}

// Incoming returns the inbound frame bus.
func (c *Connection) Incoming() *bus.Bus {
	return c.incoming
}

// Pending returns the queue of frames awaiting acknowledgment.
func (c *Connection) Pending() *ack.Queue {
	return c.pending
}

// SetSender attaches the outbound transport. A nil sender detaches it.
func (c *Connection) SetSender(s Sender) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sender = s
}

// Receive publishes a decoded frame on the inbound bus.
func (c *Connection) Receive(pm *protocol.ProtocolMessage) error {
	if pm == nil {
		return ErrNilFrame
	}
	return c.incoming.Publish(EventMessage, pm)
}

// Send writes pm through the attached Sender. Frames the service
// acknowledges get an id (if they have none) and the next msgSerial, and are
// queued as pending before they are written. If the write fails the frame is
// taken off the queue, its messages fail with the write error and its
// msgSerial is reused by the next frame.
func (c *Connection) Send(ctx context.Context, pm *protocol.ProtocolMessage) error {
	if pm == nil {
		return ErrNilFrame
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	sender := c.sender
	if sender == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot send %s", ErrNoTransport, pm)
	}

	queued := pm.AckRequired()
	if queued {
		if pm.ID == "" {
			pm.ID = uuid.NewString()
		}
		if pm.ConnectionID == "" {
			pm.ConnectionID = c.id
		}
		pm.SetSerial(c.nextSerial)
		pm.Associate()

		if err := c.pending.Push(pm); err != nil {
			c.mu.Unlock()
			return err
		}
		c.nextSerial++
	}
	c.mu.Unlock()

	c.logger.Debug("Sending frame", zap.Stringer("frame", pm))

	if err := sender.Send(ctx, pm); err != nil {
		err = fmt.Errorf("send %s: %w", pm, err)
		if queued {
			c.mu.Lock()
			if c.pending.Discard(pm, err) {
				c.nextSerial--
			}
			c.mu.Unlock()
		}
		return err
	}
	return nil
}
