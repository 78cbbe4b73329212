// Package ws carries protocol frames over a WebSocket connection.
//
// A Transport owns exactly one read goroutine, so frames reach the Sink one
// at a time and in arrival order.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/tsarna/realtime/pkg/realtime/protocol"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by Send before Connect or after Close.
var ErrNotConnected = errors.New("transport is not connected")

// Sink receives what the transport reads.
type Sink interface {
	// Receive is called for every decoded frame, from the read goroutine.
	Receive(pm *protocol.ProtocolMessage) error
	// OnTransportClosed is called once the connection has gone away. err is
	// nil after a local Close.
	OnTransportClosed(err error)
}

// Transport is a WebSocket connection to the realtime service.
type Transport struct {
	url              string
	logger           *zap.Logger
	dialTimeout      time.Duration
	sink             Sink
	writeChannelSize int
	authProvider     AuthorizationProvider
	headers          map[string][]string

	conn     *websocket.Conn
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.RWMutex
	started  int32
	stopping int32

	writeChannel chan []byte
	done         chan struct{}
}

// Connect dials the service and starts the read and write loops.
func (t *Transport) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&t.started, 0, 1) {
		return fmt.Errorf("transport is already started")
	}

	if _, err := url.Parse(t.url); err != nil {
		atomic.StoreInt32(&t.started, 0)
		return fmt.Errorf("invalid URL: %w", err)
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, t.dialTimeout)
	defer dialCancel()

	dialOptions := &websocket.DialOptions{}

	if t.headers != nil {
		dialOptions.HTTPHeader = make(map[string][]string)
		for key, values := range t.headers {
			dialOptions.HTTPHeader[key] = values
		}
	}

	// may override a custom Authorization header
	if t.authProvider != nil {
		authValue, err := t.authProvider(dialCtx)
		if err != nil {
			atomic.StoreInt32(&t.started, 0)
			return fmt.Errorf("failed to get authorization: %w", err)
		}
		if authValue != "" {
			if dialOptions.HTTPHeader == nil {
				dialOptions.HTTPHeader = make(map[string][]string)
			}
			dialOptions.HTTPHeader["Authorization"] = []string{authValue}
		}
	}

	conn, _, err := websocket.Dial(dialCtx, t.url, dialOptions)
	if err != nil {
		atomic.StoreInt32(&t.started, 0)
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	// the loops outlive the dial context
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.done = make(chan struct{})
	t.writeChannel = make(chan []byte, t.writeChannelSize)

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	t.logger.Info("WebSocket transport connected", zap.String("url", t.url))

	go t.readLoop()
	go t.writeLoop()

	return nil
}

// Close closes the connection and waits for the read loop to finish. The
// sink is told with a nil error. Closing a closed transport is a no-op.
func (t *Transport) Close() error {
	if atomic.LoadInt32(&t.started) == 0 {
		return nil
	}
	if !atomic.CompareAndSwapInt32(&t.stopping, 0, 1) {
		return nil
	}

	t.logger.Info("Closing WebSocket transport")
	t.cleanupWithStatus(websocket.StatusNormalClosure, "client close")
	t.sink.OnTransportClosed(nil)

	return nil
}

func (t *Transport) cleanupWithStatus(status websocket.StatusCode, reason string) {
	if t.cancel != nil {
		t.cancel()
	}

	t.mu.Lock()
	if t.conn != nil {
		t.conn.Close(status, reason)
		t.conn = nil
	}
	t.mu.Unlock()

	if t.done != nil {
		<-t.done
	}

	atomic.StoreInt32(&t.started, 0)
	atomic.StoreInt32(&t.stopping, 0)
}

// notifyDisconnectError cleans up after a failed read or write and tells the
// sink. Cleanup runs on its own goroutine because it waits for the loops
// that call this.
func (t *Transport) notifyDisconnectError(err error) {
	if atomic.CompareAndSwapInt32(&t.stopping, 0, 1) {
		go func() {
			t.cleanupWithStatus(websocket.StatusInternalError, "connection error")
			t.sink.OnTransportClosed(err)
		}()
	}
}

// Send encodes pm and queues it for writing. It blocks while the write
// channel is full, until ctx is done.
func (t *Transport) Send(ctx context.Context, pm *protocol.ProtocolMessage) error {
	if atomic.LoadInt32(&t.started) == 0 || atomic.LoadInt32(&t.stopping) == 1 {
		return ErrNotConnected
	}

	data, err := protocol.Encode(pm)
	if err != nil {
		return err
	}

	select {
	case t.writeChannel <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.ctx.Done():
		return ErrNotConnected
	}
}

func (t *Transport) readLoop() {
	defer close(t.done)

	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()

	if conn == nil {
		return
	}

	for {
		_, data, err := conn.Read(t.ctx)
		if err != nil {
			if t.ctx.Err() == nil {
				if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
					t.logger.Info("WebSocket closed by service")
				} else {
					t.logger.Error("Failed to read from WebSocket", zap.Error(err))
				}
				t.notifyDisconnectError(err)
			}
			return
		}

		t.handleFrame(data)
	}
}

func (t *Transport) writeLoop() {
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()

	if conn == nil {
		return
	}

	for {
		select {
		case <-t.ctx.Done():
			return
		case data := <-t.writeChannel:
			if err := conn.Write(t.ctx, websocket.MessageText, data); err != nil {
				if t.ctx.Err() == nil {
					t.logger.Error("Failed to write to WebSocket", zap.Error(err))
					t.notifyDisconnectError(err)
				}
				return
			}
		}
	}
}

func (t *Transport) handleFrame(data []byte) {
	pm, err := protocol.Decode(data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnsupportedAction) {
			t.logger.Error("Received frame with unsupported action", zap.Error(err), zap.ByteString("frame", data))
		} else {
			t.logger.Warn("Failed to decode frame", zap.Error(err), zap.ByteString("frame", data))
		}
		return
	}

	if err := t.sink.Receive(pm); err != nil {
		t.logger.Error("Failed to dispatch frame",
			zap.Stringer("frame", pm),
			zap.Error(err))
	}
}
