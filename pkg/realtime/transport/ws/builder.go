package ws

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// AuthorizationProvider is a function that returns an authorization header value.
// It receives a context and should return the authorization value (e.g., "Bearer token123")
// or an error if authorization cannot be obtained.
type AuthorizationProvider func(ctx context.Context) (string, error)

// TransportBuilder provides a fluent interface for building WebSocket transports.
type TransportBuilder struct {
	url              string
	logger           *zap.Logger
	dialTimeout      time.Duration
	sink             Sink
	writeChannelSize int
	authProvider     AuthorizationProvider
	headers          map[string][]string
}

// NewTransport creates a new WebSocket transport builder.
func NewTransport() *TransportBuilder {
	return &TransportBuilder{
		dialTimeout:      30 * time.Second,
		logger:           zap.NewNop(),
		writeChannelSize: 100,
	}
}

// WithURL sets the WebSocket URL to connect to.
func (b *TransportBuilder) WithURL(url string) *TransportBuilder {
	b.url = url
	return b
}

// WithLogger sets the logger for the transport.
func (b *TransportBuilder) WithLogger(logger *zap.Logger) *TransportBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithDialTimeout sets the timeout for establishing the WebSocket connection.
func (b *TransportBuilder) WithDialTimeout(timeout time.Duration) *TransportBuilder {
	if timeout > 0 {
		b.dialTimeout = timeout
	}
	return b
}

// WithSink sets where decoded frames and close notifications go.
func (b *TransportBuilder) WithSink(sink Sink) *TransportBuilder {
	b.sink = sink
	return b
}

// WithWriteChannelSize sets the buffer size for the internal write channel. Default is 100.
func (b *TransportBuilder) WithWriteChannelSize(size int) *TransportBuilder {
	if size > 0 {
		b.writeChannelSize = size
	}
	return b
}

// WithAuthorization sets a static Authorization header value.
func (b *TransportBuilder) WithAuthorization(authHeader string) *TransportBuilder {
	b.authProvider = func(ctx context.Context) (string, error) {
		return authHeader, nil
	}
	return b
}

// WithAuthorizationProvider sets an authorization provider function, called
// on every Connect.
func (b *TransportBuilder) WithAuthorizationProvider(provider AuthorizationProvider) *TransportBuilder {
	b.authProvider = provider
	return b
}

// WithHeaders adds custom HTTP headers for the WebSocket handshake.
func (b *TransportBuilder) WithHeaders(headers map[string][]string) *TransportBuilder {
	if b.headers == nil {
		b.headers = make(map[string][]string)
	}
	for key, values := range headers {
		b.headers[key] = values
	}
	return b
}

// WithHeader sets a single HTTP header for the WebSocket handshake.
func (b *TransportBuilder) WithHeader(key, value string) *TransportBuilder {
	if b.headers == nil {
		b.headers = make(map[string][]string)
	}
	b.headers[key] = []string{value}
	return b
}

// IsValid checks that all required configuration is present.
func (b *TransportBuilder) IsValid() error {
	if b.url == "" {
		return fmt.Errorf("URL is required")
	}

	if b.sink == nil {
		return fmt.Errorf("sink is required")
	}

	return nil
}

// Build creates and returns a new WebSocket transport with the configured options.
func (b *TransportBuilder) Build() (*Transport, error) {
	if err := b.IsValid(); err != nil {
		return nil, err
	}

	return &Transport{
		url:              b.url,
		logger:           b.logger,
		dialTimeout:      b.dialTimeout,
		sink:             b.sink,
		writeChannelSize: b.writeChannelSize,
		authProvider:     b.authProvider,
		headers:          b.headers,
	}, nil
}
