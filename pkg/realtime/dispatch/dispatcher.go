// Package dispatch turns inbound protocol frames into local effects: state
// transitions, channel deliveries and acknowledgment resolution.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tsarna/realtime/pkg/realtime/ack"
	"github.com/tsarna/realtime/pkg/realtime/bus"
	"github.com/tsarna/realtime/pkg/realtime/channel"
	"github.com/tsarna/realtime/pkg/realtime/connection"
	"github.com/tsarna/realtime/pkg/realtime/o11y"
	"github.com/tsarna/realtime/pkg/realtime/protocol"
	"go.uber.org/zap"
)

// ErrNotProtocolMessage is returned when Dispatch is given anything other
// than a *protocol.ProtocolMessage.
var ErrNotProtocolMessage = errors.New("not a protocol message")

// Connection is the part of a connection the dispatcher acts on.
type Connection interface {
	Incoming() *bus.Bus
	Pending() *ack.Queue
	SetID(id string)
	TransitionTo(s connection.State, args ...any) error
	EmitError(args ...any) error
}

var _ Connection = (*connection.Connection)(nil)

// Dispatcher is the single subscriber on a connection's inbound bus. It
// performs no I/O of its own.
type Dispatcher struct {
	conn             Connection
	channels         channel.Resolver
	logger           *zap.Logger
	tracingProvider  o11y.TracingProvider
	connectionStates map[protocol.Action]connection.State

	framesCounter      o11y.Counter
	unsupportedCounter o11y.Counter
	ackedCounter       o11y.Counter
	nackCounter        o11y.Counter
	durationHistogram  o11y.Histogram
	pendingGauge       o11y.Gauge

	mu      sync.Mutex
	sub     bus.Subscription
	started bool
}

func (d *Dispatcher) setupMetrics(provider o11y.MetricsProvider) {
	d.framesCounter = provider.Counter("frames_received_total")
	d.unsupportedCounter = provider.Counter("frames_unsupported_total")
	d.ackedCounter = provider.Counter("messages_acked_total")
	d.nackCounter = provider.Counter("nacks_total")
	d.durationHistogram = provider.Histogram("dispatch_duration_seconds")
	d.pendingGauge = provider.Gauge("pending_frames")
}

// Start subscribes the dispatcher to the connection's inbound bus.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return fmt.Errorf("dispatcher already started")
	}

	sub, err := d.conn.Incoming().Subscribe(connection.EventMessage, func(event string, args ...any) error {
		if len(args) != 1 {
			return fmt.Errorf("%w: inbound event carried %d arguments", ErrNotProtocolMessage, len(args))
		}
		return d.Dispatch(context.Background(), args[0])
	})
	if err != nil {
		return err
	}

	d.sub = sub
	d.started = true
	return nil
}

// Stop unsubscribes the dispatcher. Stopping a stopped dispatcher is a no-op.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return nil
	}

	d.started = false
	return d.conn.Incoming().Unsubscribe(connection.EventMessage, d.sub)
}

// Dispatch applies one inbound frame. Unknown actions fail with an error
// wrapping protocol.ErrUnsupportedAction.
func (d *Dispatcher) Dispatch(ctx context.Context, v any) error {
	pm, ok := v.(*protocol.ProtocolMessage)
	if !ok || pm == nil {
		return fmt.Errorf("%w: got %T", ErrNotProtocolMessage, v)
	}

	start := time.Now()

	var span o11y.Span
	if d.tracingProvider != nil {
		ctx, span = d.tracingProvider.StartSpan(ctx, "realtime.dispatch")
		span.SetAttributes(
			o11y.L("action", string(pm.Action)),
			o11y.L("channel", pm.Channel),
		)
		defer span.End()
	}

	err := d.dispatch(ctx, pm)

	if d.framesCounter != nil {
		d.framesCounter.Add(ctx, 1, o11y.L("action", string(pm.Action)))
		if errors.Is(err, protocol.ErrUnsupportedAction) {
			d.unsupportedCounter.Add(ctx, 1)
		}
		d.durationHistogram.Record(ctx, time.Since(start).Seconds(), o11y.L("action", string(pm.Action)))
		d.pendingGauge.Set(ctx, float64(d.conn.Pending().Len()))
	}

	if span != nil {
		if err != nil {
			span.SetStatus(o11y.SpanStatusError, err.Error())
		} else {
			span.SetStatus(o11y.SpanStatusOK, "")
		}
	}

	return err
}

func (d *Dispatcher) dispatch(ctx context.Context, pm *protocol.ProtocolMessage) error {
	switch pm.Action {
	case protocol.ActionHeartbeat,
		protocol.ActionConnect,
		protocol.ActionDisconnect,
		protocol.ActionClose,
		protocol.ActionAttach,
		protocol.ActionDetach,
		protocol.ActionPresence:
		return nil

	case protocol.ActionAck:
		return d.handleAck(ctx, pm)

	case protocol.ActionNack:
		return d.handleNack(ctx, pm)

	case protocol.ActionConnected, protocol.ActionDisconnected, protocol.ActionClosed:
		if pm.Action == protocol.ActionConnected && pm.ConnectionID != "" {
			d.conn.SetID(pm.ConnectionID)
		}
		return d.conn.TransitionTo(d.connectionStates[pm.Action], errorArgs(pm)...)

	case protocol.ActionError:
		d.logger.Error("Received error frame",
			zap.String("channel", pm.Channel),
			zap.String("message", pm.Error.Message()),
			zap.Int("code", pm.Error.Code()),
			zap.Int("statusCode", pm.Error.StatusCode()))
		if pm.Channel != "" {
			return d.channels.Resolve(pm.Channel).EmitError(errorArgs(pm)...)
		}
		return d.conn.EmitError(errorArgs(pm)...)

	case protocol.ActionAttached:
		return d.channels.Resolve(pm.Channel).TransitionTo(channel.StateAttached, errorArgs(pm)...)

	case protocol.ActionDetached:
		return d.channels.Resolve(pm.Channel).TransitionTo(channel.StateDetached, errorArgs(pm)...)

	case protocol.ActionMessage:
		pm.Associate()
		return d.deliver(pm)

	default:
		return fmt.Errorf("%w: %q", protocol.ErrUnsupportedAction, pm.Action)
	}
}

// deliver publishes every message of the frame to its channel. A subscriber
// error does not stop delivery of the remaining messages: the first error is
// returned and the rest are logged.
func (d *Dispatcher) deliver(pm *protocol.ProtocolMessage) error {
	target := d.channels.Resolve(pm.Channel)

	var deliverError error
	for i, msg := range pm.Messages {
		if msg == nil {
			continue
		}
		if err := target.Deliver(msg); err != nil {
			if deliverError == nil {
				deliverError = err
			} else {
				d.logger.Error("Additional error delivering message",
					zap.String("channel", pm.Channel),
					zap.Int("index", i),
					zap.Error(err))
			}
		}
	}
	return deliverError
}

func (d *Dispatcher) handleAck(ctx context.Context, pm *protocol.ProtocolMessage) error {
	serial, ok := pm.Serial()
	if !ok {
		d.logger.Debug("Ignoring ack without msgSerial")
		return nil
	}

	acked := d.conn.Pending().Ack(serial)
	if d.ackedCounter != nil {
		d.ackedCounter.Add(ctx, int64(countMessages(acked)))
	}
	return nil
}

// handleNack reports the failure only. Pending frames stay queued until a
// later ack or until the connection closes.
func (d *Dispatcher) handleNack(ctx context.Context, pm *protocol.ProtocolMessage) error {
	fields := []zap.Field{
		zap.Int("count", pm.Count),
		zap.String("message", pm.Error.Message()),
		zap.Int("code", pm.Error.Code()),
	}
	if serial, ok := pm.Serial(); ok {
		affected := d.conn.Pending().Peek(serial)
		fields = append(fields,
			zap.Int64("msgSerial", serial),
			zap.Int("pendingFrames", len(affected)),
			zap.Int("pendingMessages", countMessages(affected)))
	}

	d.logger.Warn("Received nack", fields...)

	if d.nackCounter != nil {
		d.nackCounter.Add(ctx, 1)
	}
	return nil
}

func errorArgs(pm *protocol.ProtocolMessage) []any {
	if pm.Error == nil {
		return nil
	}
	return []any{pm.Error}
}

func countMessages(frames []*protocol.ProtocolMessage) int {
	n := 0
	for _, pm := range frames {
		n += len(pm.Messages)
	}
	return n
}
