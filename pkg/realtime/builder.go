package realtime

import (
	"fmt"
	"time"

	"github.com/tsarna/realtime/pkg/realtime/channel"
	"github.com/tsarna/realtime/pkg/realtime/config"
	"github.com/tsarna/realtime/pkg/realtime/connection"
	"github.com/tsarna/realtime/pkg/realtime/dispatch"
	"github.com/tsarna/realtime/pkg/realtime/o11y"
	"github.com/tsarna/realtime/pkg/realtime/protocol"
	"github.com/tsarna/realtime/pkg/realtime/transport/ws"
	"go.uber.org/zap"
)

// TransportFactory creates the transport for a client. sink is the client
// itself, which receives every frame the transport reads.
type TransportFactory func(sink ws.Sink) (Transport, error)

// ClientBuilder provides a fluent interface for creating Client instances
type ClientBuilder struct {
	url              string
	logger           *zap.Logger
	dialTimeout      time.Duration
	writeQueueSize   int
	authorization    string
	headers          map[string][]string
	metricsProvider  o11y.MetricsProvider
	tracingProvider  o11y.TracingProvider
	connectionStates map[protocol.Action]connection.State
	transport        TransportFactory
	configErr        error
}

// NewClient creates a new ClientBuilder
func NewClient() *ClientBuilder {
	return &ClientBuilder{}
}

// WithConfig applies a loaded configuration file
func (b *ClientBuilder) WithConfig(cfg *config.Config) *ClientBuilder {
	b.url = cfg.URL
	b.dialTimeout = cfg.DialTimeout
	b.writeQueueSize = cfg.WriteQueueSize
	b.authorization = cfg.Authorization
	b.headers = cfg.HTTPHeaders()
	states, err := cfg.ConnectionStateMap()
	if err != nil {
		b.configErr = err
		return b
	}
	b.connectionStates = states
	b.configErr = nil
	return b
}

// WithURL sets the service URL used by the default WebSocket transport
func (b *ClientBuilder) WithURL(url string) *ClientBuilder {
	b.url = url
	return b
}

// WithLogger sets the logger for the Client
func (b *ClientBuilder) WithLogger(logger *zap.Logger) *ClientBuilder {
	b.logger = logger
	return b
}

// WithAuthorization sets the Authorization header sent with the handshake
func (b *ClientBuilder) WithAuthorization(value string) *ClientBuilder {
	b.authorization = value
	return b
}

// WithMetrics sets the metrics provider for the dispatcher
func (b *ClientBuilder) WithMetrics(provider o11y.MetricsProvider) *ClientBuilder {
	b.metricsProvider = provider
	return b
}

// WithTracing sets the tracing provider for the dispatcher
func (b *ClientBuilder) WithTracing(provider o11y.TracingProvider) *ClientBuilder {
	b.tracingProvider = provider
	return b
}

// WithConnectionStates overrides the states entered on lifecycle frames
func (b *ClientBuilder) WithConnectionStates(states map[protocol.Action]connection.State) *ClientBuilder {
	b.connectionStates = states
	return b
}

// WithTransport replaces the default WebSocket transport
func (b *ClientBuilder) WithTransport(factory TransportFactory) *ClientBuilder {
	b.transport = factory
	return b
}

// IsValid validates the builder configuration and returns an error if invalid
func (b *ClientBuilder) IsValid() error {
	if b.configErr != nil {
		return b.configErr
	}
	if b.transport == nil && b.url == "" {
		return fmt.Errorf("URL is required")
	}
	return nil
}

// Build creates and returns the Client instance, returning an error if configuration is invalid
func (b *ClientBuilder) Build() (*Client, error) {
	if err := b.IsValid(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		logger:   logger,
		conn:     connection.New(logger),
		channels: channel.NewRegistry(logger),
	}

	dispatcher, err := dispatch.NewDispatcher().
		WithConnection(c.conn).
		WithChannels(c.channels).
		WithLogger(logger).
		WithMetrics(b.metricsProvider).
		WithTracing(b.tracingProvider).
		WithConnectionStates(b.connectionStates).
		Build()
	if err != nil {
		return nil, err
	}
	c.dispatcher = dispatcher

	factory := b.transport
	if factory == nil {
		factory = b.websocketTransport(logger)
	}
	transport, err := factory(c)
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}
	c.transport = transport
	c.conn.SetSender(transport)

	if err := dispatcher.Start(); err != nil {
		return nil, err
	}

	return c, nil
}

func (b *ClientBuilder) websocketTransport(logger *zap.Logger) TransportFactory {
	return func(sink ws.Sink) (Transport, error) {
		tb := ws.NewTransport().
			WithURL(b.url).
			WithLogger(logger).
			WithSink(sink).
			WithDialTimeout(b.dialTimeout).
			WithWriteChannelSize(b.writeQueueSize).
			WithHeaders(b.headers)
		if b.authorization != "" {
			tb = tb.WithAuthorization(b.authorization)
		}
		return tb.Build()
	}
}
