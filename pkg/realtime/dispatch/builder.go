package dispatch

import (
	"fmt"

	"github.com/tsarna/realtime/pkg/realtime/channel"
	"github.com/tsarna/realtime/pkg/realtime/connection"
	"github.com/tsarna/realtime/pkg/realtime/o11y"
	"github.com/tsarna/realtime/pkg/realtime/protocol"
	"go.uber.org/zap"
)

// DispatcherBuilder provides a fluent interface for creating Dispatcher instances
type DispatcherBuilder struct {
	conn             Connection
	channels         channel.Resolver
	logger           *zap.Logger
	metricsProvider  o11y.MetricsProvider
	tracingProvider  o11y.TracingProvider
	connectionStates map[protocol.Action]connection.State
}

// NewDispatcher creates a new DispatcherBuilder
func NewDispatcher() *DispatcherBuilder {
	return &DispatcherBuilder{
		connectionStates: DefaultConnectionStates(),
	}
}

// DefaultConnectionStates maps each lifecycle action to the state of the same name.
func DefaultConnectionStates() map[protocol.Action]connection.State {
	return map[protocol.Action]connection.State{
		protocol.ActionConnected:    connection.StateConnected,
		protocol.ActionDisconnected: connection.StateDisconnected,
		protocol.ActionClosed:       connection.StateClosed,
	}
}

// WithConnection sets the connection whose inbound frames are dispatched
func (b *DispatcherBuilder) WithConnection(conn Connection) *DispatcherBuilder {
	b.conn = conn
	return b
}

// WithChannels sets how channel names are resolved
func (b *DispatcherBuilder) WithChannels(channels channel.Resolver) *DispatcherBuilder {
	b.channels = channels
	return b
}

// WithLogger sets the logger for the Dispatcher
func (b *DispatcherBuilder) WithLogger(logger *zap.Logger) *DispatcherBuilder {
	b.logger = logger
	return b
}

// WithMetrics sets the metrics provider for the Dispatcher
func (b *DispatcherBuilder) WithMetrics(provider o11y.MetricsProvider) *DispatcherBuilder {
	b.metricsProvider = provider
	return b
}

// WithTracing sets the tracing provider for the Dispatcher
func (b *DispatcherBuilder) WithTracing(provider o11y.TracingProvider) *DispatcherBuilder {
	b.tracingProvider = provider
	return b
}

// WithConnectionStates overrides the connection state entered on connected,
// disconnected and closed frames. Actions not in states keep their default.
func (b *DispatcherBuilder) WithConnectionStates(states map[protocol.Action]connection.State) *DispatcherBuilder {
	for action, s := range states {
		b.connectionStates[action] = s
	}
	return b
}

// IsValid validates the builder configuration and returns an error if invalid
func (b *DispatcherBuilder) IsValid() error {
	if b.conn == nil {
		return fmt.Errorf("dispatcher requires a connection")
	}

	for action, s := range b.connectionStates {
		switch action {
		case protocol.ActionConnected, protocol.ActionDisconnected, protocol.ActionClosed:
		default:
			return fmt.Errorf("action %q does not change connection state", action)
		}
		if !connection.States.Contains(s) {
			return fmt.Errorf("action %q maps to unknown connection state %q", action, s)
		}
	}

	return nil
}

// Build creates and returns the Dispatcher instance, returning an error if configuration is invalid
func (b *DispatcherBuilder) Build() (*Dispatcher, error) {
	if err := b.IsValid(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	channels := b.channels
	if channels == nil {
		channels = channel.NewRegistry(logger)
	}

	states := make(map[protocol.Action]connection.State, len(b.connectionStates))
	for action, s := range b.connectionStates {
		states[action] = s
	}

	d := &Dispatcher{
		conn:             b.conn,
		channels:         channels,
		logger:           logger,
		tracingProvider:  b.tracingProvider,
		connectionStates: states,
	}

	if b.metricsProvider != nil {
		d.setupMetrics(b.metricsProvider)
	}

	return d, nil
}
