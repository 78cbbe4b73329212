package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/realtime/pkg/realtime/channel"
	"github.com/tsarna/realtime/pkg/realtime/connection"
	"github.com/tsarna/realtime/pkg/realtime/o11y"
	"github.com/tsarna/realtime/pkg/realtime/protocol"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fixture struct {
	conn       *connection.Connection
	registry   *channel.Registry
	dispatcher *Dispatcher
	logs       *observer.ObservedLogs
}

func newFixture(t *testing.T, configure ...func(*DispatcherBuilder)) *fixture {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	conn := connection.New(logger)
	registry := channel.NewRegistry(logger)

	b := NewDispatcher().
		WithConnection(conn).
		WithChannels(registry).
		WithLogger(logger)
	for _, fn := range configure {
		fn(b)
	}

	d, err := b.Build()
	require.NoError(t, err)

	return &fixture{conn: conn, registry: registry, dispatcher: d, logs: logs}
}

func (f *fixture) dispatch(t *testing.T, pm *protocol.ProtocolMessage) error {
	t.Helper()
	return f.dispatcher.Dispatch(context.Background(), pm)
}

func pending(t *testing.T, conn *connection.Connection, serials ...int64) []*protocol.ProtocolMessage {
	t.Helper()
	var frames []*protocol.ProtocolMessage
	for _, s := range serials {
		pm := protocol.NewMessageFrame("chan", protocol.NewMessage("m", s))
		pm.SetSerial(s)
		require.NoError(t, conn.Pending().Push(pm))
		frames = append(frames, pm)
	}
	return frames
}

func TestBuilder(t *testing.T) {
	t.Run("connection is required", func(t *testing.T) {
		_, err := NewDispatcher().Build()
		assert.Error(t, err)
	})

	t.Run("state overrides are validated", func(t *testing.T) {
		_, err := NewDispatcher().
			WithConnection(connection.New(nil)).
			WithConnectionStates(map[protocol.Action]connection.State{protocol.ActionAttached: connection.StateConnected}).
			Build()
		assert.Error(t, err)

		_, err = NewDispatcher().
			WithConnection(connection.New(nil)).
			WithConnectionStates(map[protocol.Action]connection.State{protocol.ActionClosed: "gone"}).
			Build()
		assert.Error(t, err)
	})

	t.Run("fluent interface returns same builder", func(t *testing.T) {
		b := NewDispatcher()
		assert.Same(t, b, b.WithLogger(zap.NewNop()))
		assert.Same(t, b, b.WithMetrics(o11y.NewMemoryProvider("x")))
		assert.Same(t, b, b.WithTracing(&recordingTracer{}))
		assert.Same(t, b, b.WithChannels(channel.NewRegistry(nil)))
	})

	t.Run("channels default to an empty registry", func(t *testing.T) {
		d, err := NewDispatcher().WithConnection(connection.New(nil)).Build()
		require.NoError(t, err)
		assert.NoError(t, d.Dispatch(context.Background(), &protocol.ProtocolMessage{Action: protocol.ActionAttached, Channel: "x"}))
	})
}

func TestNotAProtocolMessage(t *testing.T) {
	f := newFixture(t)

	for _, v := range []any{"frame", 42, nil, (*protocol.ProtocolMessage)(nil), protocol.ProtocolMessage{}} {
		err := f.dispatcher.Dispatch(context.Background(), v)
		assert.ErrorIs(t, err, ErrNotProtocolMessage, "%#v", v)
	}
}

func TestNoOpActions(t *testing.T) {
	for _, action := range []protocol.Action{
		protocol.ActionHeartbeat,
		protocol.ActionConnect,
		protocol.ActionDisconnect,
		protocol.ActionClose,
		protocol.ActionAttach,
		protocol.ActionDetach,
		protocol.ActionPresence,
	} {
		t.Run(string(action), func(t *testing.T) {
			f := newFixture(t)
			c, err := f.registry.GetOrCreate("chan")
			require.NoError(t, err)
			pending(t, f.conn, 1)

			err = f.dispatch(t, &protocol.ProtocolMessage{Action: action, Channel: "chan"})
			require.NoError(t, err)

			assert.Equal(t, connection.StateInitialized, f.conn.State())
			assert.Equal(t, channel.StateInitialized, c.State())
			assert.Equal(t, 1, f.conn.Pending().Len())
		})
	}
}

func TestUnsupportedAction(t *testing.T) {
	f := newFixture(t)

	err := f.dispatch(t, &protocol.ProtocolMessage{Action: "sync"})
	require.Error(t, err)
	assert.ErrorIs(t, err, protocol.ErrUnsupportedAction)
	assert.Contains(t, err.Error(), "sync")

	// heartbeat is a valid no-op, not an unsupported action
	assert.NoError(t, f.dispatch(t, &protocol.ProtocolMessage{Action: protocol.ActionHeartbeat}))
}

func TestAck(t *testing.T) {
	f := newFixture(t)
	frames := pending(t, f.conn, 1, 2, 3)

	ack := &protocol.ProtocolMessage{Action: protocol.ActionAck}
	ack.SetSerial(2)
	require.NoError(t, f.dispatch(t, ack))

	assert.Equal(t, []int64{3}, f.conn.Pending().Serials())
	assert.True(t, frames[0].Messages[0].Delivery().Settled())
	assert.True(t, frames[1].Messages[0].Delivery().Settled())
	assert.NoError(t, frames[1].Messages[0].Delivery().Err())
	assert.False(t, frames[2].Messages[0].Delivery().Settled())

	t.Run("without serial", func(t *testing.T) {
		require.NoError(t, f.dispatch(t, &protocol.ProtocolMessage{Action: protocol.ActionAck}))
		assert.Equal(t, 1, f.conn.Pending().Len())
	})
}

func TestNackIsAdvisory(t *testing.T) {
	f := newFixture(t)
	frames := pending(t, f.conn, 1, 2)

	nack := &protocol.ProtocolMessage{
		Action: protocol.ActionNack,
		Count:  2,
		Error:  protocol.NewErrorInfo("rate limited", 42910, 429),
	}
	nack.SetSerial(2)
	require.NoError(t, f.dispatch(t, nack))

	assert.Equal(t, []int64{1, 2}, f.conn.Pending().Serials(), "nack leaves pending entries untouched")
	for _, pm := range frames {
		assert.False(t, pm.Messages[0].Delivery().Settled())
	}

	entries := f.logs.FilterMessage("Received nack").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(2), fields["msgSerial"])
	assert.Equal(t, int64(2), fields["pendingFrames"])
	assert.Equal(t, "rate limited", fields["message"])

	// a later ack still resolves them
	ack := &protocol.ProtocolMessage{Action: protocol.ActionAck}
	ack.SetSerial(2)
	require.NoError(t, f.dispatch(t, ack))
	assert.Equal(t, 0, f.conn.Pending().Len())
}

func TestConnectionLifecycle(t *testing.T) {
	f := newFixture(t)

	var events []string
	var errArgs []any
	for _, s := range []connection.State{connection.StateConnected, connection.StateDisconnected, connection.StateClosed} {
		_, err := f.conn.Subscribe(string(s), func(event string, args ...any) error {
			events = append(events, event)
			errArgs = append(errArgs, args...)
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, f.dispatch(t, &protocol.ProtocolMessage{Action: protocol.ActionConnected, ConnectionID: "conn-7"}))
	assert.Equal(t, connection.StateConnected, f.conn.State())
	assert.Equal(t, "conn-7", f.conn.ID())

	// repeated connected does not republish
	require.NoError(t, f.dispatch(t, &protocol.ProtocolMessage{Action: protocol.ActionConnected}))
	assert.Equal(t, []string{"connected"}, events)
	assert.Equal(t, "conn-7", f.conn.ID())

	reason := protocol.NewErrorInfo("idle", 80003, 400)
	require.NoError(t, f.dispatch(t, &protocol.ProtocolMessage{Action: protocol.ActionDisconnected, Error: reason}))
	assert.Equal(t, connection.StateDisconnected, f.conn.State())

	require.NoError(t, f.dispatch(t, &protocol.ProtocolMessage{Action: protocol.ActionClosed}))
	assert.Equal(t, connection.StateClosed, f.conn.State())

	assert.Equal(t, []string{"connected", "disconnected", "closed"}, events)
	require.Len(t, errArgs, 1)
	assert.Same(t, reason, errArgs[0])
}

func TestConnectionStateOverrides(t *testing.T) {
	f := newFixture(t, func(b *DispatcherBuilder) {
		b.WithConnectionStates(map[protocol.Action]connection.State{
			protocol.ActionDisconnected: connection.StateSuspended,
		})
	})

	require.NoError(t, f.dispatch(t, &protocol.ProtocolMessage{Action: protocol.ActionDisconnected}))
	assert.Equal(t, connection.StateSuspended, f.conn.State())

	require.NoError(t, f.dispatch(t, &protocol.ProtocolMessage{Action: protocol.ActionConnected}))
	assert.Equal(t, connection.StateConnected, f.conn.State())
}

func TestErrorFrames(t *testing.T) {
	t.Run("channel error", func(t *testing.T) {
		f := newFixture(t)
		c, err := f.registry.GetOrCreate("chan")
		require.NoError(t, err)

		var got []any
		_, err = c.Subscribe("error", func(event string, args ...any) error {
			got = args
			return nil
		})
		require.NoError(t, err)

		info := protocol.NewErrorInfo("denied", 40160, 401)
		require.NoError(t, f.dispatch(t, &protocol.ProtocolMessage{Action: protocol.ActionError, Channel: "chan", Error: info}))

		require.Len(t, got, 1)
		assert.Same(t, info, got[0])
		assert.Equal(t, channel.StateInitialized, c.State(), "error does not change state")

		entries := f.logs.FilterMessage("Received error frame").All()
		require.Len(t, entries, 1)
		assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
		assert.Equal(t, int64(40160), entries[0].ContextMap()["code"])
	})

	t.Run("connection error", func(t *testing.T) {
		f := newFixture(t)
		var got []any
		_, err := f.conn.Subscribe("error", func(event string, args ...any) error {
			got = args
			return nil
		})
		require.NoError(t, err)

		info := protocol.NewErrorInfo("bad token", 40101, 401)
		require.NoError(t, f.dispatch(t, &protocol.ProtocolMessage{Action: protocol.ActionError, Error: info}))
		require.Len(t, got, 1)
		assert.Same(t, info, got[0])
	})

	t.Run("error frame without detail", func(t *testing.T) {
		f := newFixture(t)
		called := false
		_, err := f.conn.Subscribe("error", func(event string, args ...any) error {
			called = true
			assert.Empty(t, args)
			return nil
		})
		require.NoError(t, err)

		require.NoError(t, f.dispatch(t, &protocol.ProtocolMessage{Action: protocol.ActionError}))
		assert.True(t, called)
	})
}

func TestAttachedDetached(t *testing.T) {
	f := newFixture(t)
	c, err := f.registry.GetOrCreate("chan")
	require.NoError(t, err)

	require.NoError(t, f.dispatch(t, &protocol.ProtocolMessage{Action: protocol.ActionAttached, Channel: "chan"}))
	assert.Equal(t, channel.StateAttached, c.State())

	require.NoError(t, f.dispatch(t, &protocol.ProtocolMessage{Action: protocol.ActionDetached, Channel: "chan"}))
	assert.Equal(t, channel.StateDetached, c.State())
}

func TestAttachedUnknownChannel(t *testing.T) {
	f := newFixture(t)

	assert.NotPanics(t, func() {
		err := f.dispatch(t, &protocol.ProtocolMessage{Action: protocol.ActionAttached, Channel: "nobody"})
		assert.NoError(t, err)
	})

	warnings := f.logs.FilterLevelExact(zapcore.WarnLevel).FilterMessage("Received frame for unknown channel").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, "nobody", warnings[0].ContextMap()["channel"])
	assert.Empty(t, f.registry.Names(), "resolving does not create channels")
}

func TestMessageDelivery(t *testing.T) {
	f := newFixture(t)
	x, err := f.registry.GetOrCreate("X")
	require.NoError(t, err)
	other, err := f.registry.GetOrCreate("Y")
	require.NoError(t, err)

	var got []*protocol.Message
	_, err = x.SubscribeMessages(func(msg *protocol.Message) error {
		got = append(got, msg)
		return nil
	})
	require.NoError(t, err)
	otherCalls := 0
	_, err = other.SubscribeMessages(func(*protocol.Message) error {
		otherCalls++
		return nil
	})
	require.NoError(t, err)

	frame := &protocol.ProtocolMessage{
		Action:  protocol.ActionMessage,
		ID:      "frame",
		Channel: "X",
		Messages: []*protocol.Message{
			{Name: "first", Data: "a"},
			{Name: "second", Data: "b"},
		},
	}
	require.NoError(t, f.dispatch(t, frame))

	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Name)
	assert.Equal(t, "second", got[1].Name)
	assert.Equal(t, 0, otherCalls)

	id, err := got[1].ResolvedID()
	require.NoError(t, err)
	assert.Equal(t, "frame:1", id)
}

func TestMessageDeliveryError(t *testing.T) {
	f := newFixture(t)
	x, err := f.registry.GetOrCreate("X")
	require.NoError(t, err)

	boom := errors.New("boom")
	failing := 0
	_, err = x.SubscribeMessages(func(*protocol.Message) error {
		failing++
		return boom
	})
	require.NoError(t, err)

	var seen []string
	_, err = x.SubscribeMessages(func(msg *protocol.Message) error {
		seen = append(seen, msg.Name)
		return nil
	})
	require.NoError(t, err)

	err = f.dispatch(t, protocol.NewMessageFrame("X", protocol.NewMessage("a", nil), protocol.NewMessage("b", nil)))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, failing, "every message is delivered despite subscriber errors")
	assert.Equal(t, []string{"a", "b"}, seen)
	assert.Equal(t, 1, f.logs.FilterMessage("Additional error delivering message").Len())
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	c, err := f.registry.GetOrCreate("chan")
	require.NoError(t, err)

	require.NoError(t, f.dispatcher.Start())
	assert.Error(t, f.dispatcher.Start())
	assert.Equal(t, 1, f.conn.Incoming().HandlerCount(connection.EventMessage))

	require.NoError(t, f.conn.Receive(&protocol.ProtocolMessage{Action: protocol.ActionAttached, Channel: "chan"}))
	assert.Equal(t, channel.StateAttached, c.State())

	err = f.conn.Receive(&protocol.ProtocolMessage{Action: "bogus"})
	assert.ErrorIs(t, err, protocol.ErrUnsupportedAction)

	err = f.conn.Incoming().Publish(connection.EventMessage)
	assert.ErrorIs(t, err, ErrNotProtocolMessage)

	require.NoError(t, f.dispatcher.Stop())
	require.NoError(t, f.dispatcher.Stop())
	assert.Equal(t, 0, f.conn.Incoming().HandlerCount(connection.EventMessage))

	require.NoError(t, f.conn.Receive(&protocol.ProtocolMessage{Action: protocol.ActionDetached, Channel: "chan"}))
	assert.Equal(t, channel.StateAttached, c.State())
}

func TestMetrics(t *testing.T) {
	metrics := o11y.NewMemoryProvider("test")
	f := newFixture(t, func(b *DispatcherBuilder) { b.WithMetrics(metrics) })
	pending(t, f.conn, 1, 2, 3)

	ack := &protocol.ProtocolMessage{Action: protocol.ActionAck}
	ack.SetSerial(2)
	require.NoError(t, f.dispatch(t, ack))
	require.NoError(t, f.dispatch(t, &protocol.ProtocolMessage{Action: protocol.ActionNack}))
	require.NoError(t, f.dispatch(t, &protocol.ProtocolMessage{Action: protocol.ActionHeartbeat}))
	require.Error(t, f.dispatch(t, &protocol.ProtocolMessage{Action: "bogus"}))

	assert.Equal(t, int64(1), metrics.CounterValue("frames_received_total", o11y.L("action", "ack")))
	assert.Equal(t, int64(1), metrics.CounterValue("frames_received_total", o11y.L("action", "heartbeat")))
	assert.Equal(t, int64(1), metrics.CounterValue("frames_unsupported_total"))
	assert.Equal(t, int64(2), metrics.CounterValue("messages_acked_total"))
	assert.Equal(t, int64(1), metrics.CounterValue("nacks_total"))
	assert.Equal(t, 1.0, metrics.GaugeValue("pending_frames"))
	assert.Len(t, metrics.Snapshot().Histograms[o11y.SeriesKey("dispatch_duration_seconds", []o11y.Label{o11y.L("action", "ack")})], 1)
}

type recordingSpan struct {
	name   string
	attrs  []o11y.Label
	status o11y.SpanStatusCode
	ended  bool
}

func (s *recordingSpan) SetAttributes(labels ...o11y.Label) { s.attrs = append(s.attrs, labels...) }

func (s *recordingSpan) SetStatus(code o11y.SpanStatusCode, description string) { s.status = code }

func (s *recordingSpan) End() { s.ended = true }

type recordingTracer struct {
	mu    sync.Mutex
	spans []*recordingSpan
}

func (r *recordingTracer) StartSpan(ctx context.Context, name string) (context.Context, o11y.Span) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &recordingSpan{name: name}
	r.spans = append(r.spans, s)
	return ctx, s
}

func TestTracing(t *testing.T) {
	tracer := &recordingTracer{}
	f := newFixture(t, func(b *DispatcherBuilder) { b.WithTracing(tracer) })

	require.NoError(t, f.dispatch(t, &protocol.ProtocolMessage{Action: protocol.ActionHeartbeat}))
	require.Error(t, f.dispatch(t, &protocol.ProtocolMessage{Action: "bogus", Channel: "c"}))

	require.Len(t, tracer.spans, 2)
	assert.Equal(t, "realtime.dispatch", tracer.spans[0].name)
	assert.Equal(t, o11y.SpanStatusOK, tracer.spans[0].status)
	assert.True(t, tracer.spans[0].ended)
	assert.Equal(t, o11y.SpanStatusError, tracer.spans[1].status)
	assert.Contains(t, tracer.spans[1].attrs, o11y.L("channel", "c"))
}
