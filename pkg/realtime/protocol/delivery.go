package protocol

import (
	"context"
	"sync"
)

// Delivery is the single-use outcome of publishing a message. It is settled
// when the service acknowledges the frame that carried the message, or when
// the pending queue is failed.
type Delivery struct {
	once sync.Once
	done chan struct{}
	err  error
}

// NewDelivery creates an unsettled Delivery.
func NewDelivery() *Delivery {
	return &Delivery{done: make(chan struct{})}
}

// Resolve settles the delivery with err (nil for success). Only the first
// call has any effect; it reports whether this call settled the delivery.
func (d *Delivery) Resolve(err error) bool {
	settled := false
	d.once.Do(func() {
		d.err = err
		settled = true
		close(d.done)
	})
	return settled
}

// Done is closed once the delivery is settled.
func (d *Delivery) Done() <-chan struct{} {
	return d.done
}

// Settled reports whether the delivery has been resolved.
func (d *Delivery) Settled() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// Err returns the outcome; it is nil until the delivery is settled.
func (d *Delivery) Err() error {
	select {
	case <-d.done:
		return d.err
	default:
		return nil
	}
}

// Wait blocks until the delivery settles or ctx is done.
func (d *Delivery) Wait(ctx context.Context) error {
	select {
	case <-d.done:
		return d.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
