package realtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/tsarna/realtime/pkg/realtime/channel"
	"github.com/tsarna/realtime/pkg/realtime/connection"
	"github.com/tsarna/realtime/pkg/realtime/dispatch"
	"github.com/tsarna/realtime/pkg/realtime/protocol"
	"github.com/tsarna/realtime/pkg/realtime/transport/ws"
	"go.uber.org/zap"
)

// ErrConnectionClosed fails every message still awaiting acknowledgment when
// the client closes.
var ErrConnectionClosed = errors.New("connection closed")

// ErrClientClosed is returned by Connect after Close.
var ErrClientClosed = errors.New("client is closed")

// Transport moves frames between the client and the service.
type Transport interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, pm *protocol.ProtocolMessage) error
	Close() error
}

// Client is a connection to the service together with its channels.
type Client struct {
	logger     *zap.Logger
	conn       *connection.Connection
	channels   *channel.Registry
	dispatcher *dispatch.Dispatcher
	transport  Transport
}

var _ ws.Sink = (*Client)(nil)

// Connection returns the client's connection.
func (c *Client) Connection() *connection.Connection {
	return c.conn
}

// Channels returns the client's channel registry.
func (c *Client) Channels() *channel.Registry {
	return c.channels
}

// Connect opens the transport and waits until the service confirms the
// connection or ctx is done.
func (c *Client) Connect(ctx context.Context) error {
	switch c.conn.State() {
	case connection.StateConnected:
		return nil
	case connection.StateClosing, connection.StateClosed:
		return ErrClientClosed
	}

	if err := c.conn.TransitionTo(connection.StateConnecting); err != nil {
		return err
	}

	if err := c.transport.Connect(ctx); err != nil {
		_ = c.conn.TransitionTo(connection.StateDisconnected, err)
		return err
	}

	if err := c.conn.WaitFor(ctx, connection.StateConnected); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	c.logger.Info("Connected", zap.String("connectionId", c.conn.ID()))
	return nil
}

// Attach asks the service to attach the named channel and waits for the
// outcome. The channel is created if needed.
func (c *Client) Attach(ctx context.Context, name string) (*channel.Channel, error) {
	ch, err := c.channels.GetOrCreate(name)
	if err != nil {
		return nil, err
	}
	if ch.Is(channel.StateAttached) {
		return ch, nil
	}

	if err := ch.TransitionTo(channel.StateAttaching); err != nil {
		return nil, err
	}
	if err := c.conn.Send(ctx, &protocol.ProtocolMessage{Action: protocol.ActionAttach, Channel: name}); err != nil {
		_ = ch.TransitionTo(channel.StateFailed, err)
		return nil, err
	}

	if err := ch.WaitFor(ctx, channel.StateAttached); err != nil {
		return nil, fmt.Errorf("attach %s: %w", name, err)
	}
	return ch, nil
}

// Detach asks the service to detach the named channel and waits for the outcome.
func (c *Client) Detach(ctx context.Context, name string) error {
	ch, ok := c.channels.Get(name)
	if !ok || ch.Is(channel.StateDetached) || ch.Is(channel.StateInitialized) {
		return nil
	}

	if err := ch.TransitionTo(channel.StateDetaching); err != nil {
		return err
	}
	if err := c.conn.Send(ctx, &protocol.ProtocolMessage{Action: protocol.ActionDetach, Channel: name}); err != nil {
		_ = ch.TransitionTo(channel.StateFailed, err)
		return err
	}

	if err := ch.WaitFor(ctx, channel.StateDetached); err != nil {
		return fmt.Errorf("detach %s: %w", name, err)
	}
	return nil
}

// Publish sends msgs to a channel in one frame. The returned deliveries
// resolve when the service acknowledges the frame, or fail when the client
// closes first.
func (c *Client) Publish(ctx context.Context, channelName string, msgs ...*protocol.Message) ([]*protocol.Delivery, error) {
	if len(msgs) == 0 {
		return nil, fmt.Errorf("publish %s: no messages", channelName)
	}

	pm := protocol.NewMessageFrame(channelName, msgs...)
	if err := c.conn.Send(ctx, pm); err != nil {
		return nil, err
	}

	deliveries := make([]*protocol.Delivery, len(msgs))
	for i, m := range msgs {
		deliveries[i] = m.Delivery()
	}
	return deliveries, nil
}

// Close asks the service to close the connection, waits for confirmation
// until ctx is done, then closes the transport. Messages still pending fail
// with ErrConnectionClosed.
func (c *Client) Close(ctx context.Context) error {
	switch c.conn.State() {
	case connection.StateClosed:
		return nil
	case connection.StateConnected:
		if err := c.conn.TransitionTo(connection.StateClosing); err != nil {
			return err
		}
		if err := c.conn.Send(ctx, &protocol.ProtocolMessage{Action: protocol.ActionClose}); err != nil {
			c.logger.Warn("Failed to send close", zap.Error(err))
		} else if err := c.conn.WaitFor(ctx, connection.StateClosed); err != nil {
			c.logger.Warn("Service did not confirm close", zap.Error(err))
		}
	default:
		if err := c.conn.TransitionTo(connection.StateClosing); err != nil {
			return err
		}
	}

	err := c.transport.Close()
	_ = c.dispatcher.Stop()
	c.conn.Pending().FailAll(ErrConnectionClosed)

	if terr := c.conn.TransitionTo(connection.StateClosed); terr != nil && err == nil {
		err = terr
	}
	return err
}

// Receive implements ws.Sink by publishing the frame on the connection's
// inbound bus.
func (c *Client) Receive(pm *protocol.ProtocolMessage) error {
	return c.conn.Receive(pm)
}

// OnTransportClosed implements ws.Sink. A transport that goes away while the
// client is closing completes the close; otherwise the connection becomes
// disconnected.
func (c *Client) OnTransportClosed(err error) {
	switch c.conn.State() {
	case connection.StateClosing, connection.StateClosed:
		_ = c.conn.TransitionTo(connection.StateClosed)
	default:
		c.logger.Warn("Transport closed", zap.Error(err))
		if err != nil {
			_ = c.conn.TransitionTo(connection.StateDisconnected, err)
		} else {
			_ = c.conn.TransitionTo(connection.StateDisconnected)
		}
	}
}
