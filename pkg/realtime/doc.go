// Package realtime is a client for a realtime publish/subscribe service.
//
// A Client owns one connection, the channels attached over it, and the
// dispatcher that applies inbound frames. Frames arrive through a Transport
// (a WebSocket by default), are published on the connection's inbound bus and
// dispatched one at a time:
//
//	client, err := realtime.NewClient().
//		WithURL("wss://realtime.example.com/").
//		WithLogger(logger).
//		Build()
//	if err != nil {
//		return err
//	}
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	orders, err := client.Attach(ctx, "orders")
//
// Connection and channel state changes are observable through the embedded
// state emitters; see the state package.
package realtime
