// Package ack tracks outbound frames awaiting acknowledgment from the service.
package ack

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tsarna/realtime/pkg/realtime/protocol"
	"go.uber.org/zap"
)

var (
	// ErrMissingSerial is returned when a frame without a msgSerial is queued.
	ErrMissingSerial = errors.New("protocol message has no msgSerial")
	// ErrSerialOrder is returned when a frame's msgSerial does not follow the last queued one.
	ErrSerialOrder = errors.New("msgSerial out of order")
)

// Queue holds sent frames in serial order until they are acknowledged.
// Frames only ever leave from the front.
type Queue struct {
	logger *zap.Logger

	mu      sync.Mutex
	entries []*protocol.ProtocolMessage
	last    int64
	started bool
}

// NewQueue creates an empty Queue.
func NewQueue(logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{logger: logger}
}

// Push appends a sent frame. Its msgSerial must be greater than that of
// every frame pushed before it.
func (q *Queue) Push(pm *protocol.ProtocolMessage) error {
	serial, ok := pm.Serial()
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingSerial, pm)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started && serial <= q.last {
		return fmt.Errorf("%w: %d after %d", ErrSerialOrder, serial, q.last)
	}

	q.entries = append(q.entries, pm)
	q.last = serial
	q.started = true
	return nil
}

// Ack removes every frame with msgSerial <= serial from the front of the
// queue and resolves the delivery of each message they carry. It returns the
// removed frames in serial order.
func (q *Queue) Ack(serial int64) []*protocol.ProtocolMessage {
	q.mu.Lock()
	n := q.prefixLocked(serial)
	acked := q.entries[:n:n]
	q.entries = q.entries[n:]
	q.mu.Unlock()

	for _, pm := range acked {
		resolve(pm, nil)
	}

	if len(acked) > 0 {
		q.logger.Debug("Acknowledged pending messages",
			zap.Int64("msgSerial", serial),
			zap.Int("frames", len(acked)))
	}

	return acked
}

// Discard removes pm if it is the most recently pushed frame, fails its
// messages with err and rewinds the serial order so that pm's msgSerial can
// be pushed again. It reports whether pm was removed.
func (q *Queue) Discard(pm *protocol.ProtocolMessage, err error) bool {
	serial, ok := pm.Serial()
	if !ok {
		return false
	}

	q.mu.Lock()
	n := len(q.entries)
	if n == 0 || q.entries[n-1] != pm || q.last != serial {
		q.mu.Unlock()
		return false
	}
	q.entries = q.entries[:n-1]
	q.last = serial - 1
	q.mu.Unlock()

	resolve(pm, err)
	q.logger.Debug("Discarded pending frame",
		zap.Int64("msgSerial", serial),
		zap.Error(err))
	return true
}

func resolve(pm *protocol.ProtocolMessage, err error) {
	for _, m := range pm.Messages {
		if m != nil {
			m.Delivery().Resolve(err)
		}
	}
}

// Peek returns the frames an ack for serial would resolve, without removing them.
func (q *Queue) Peek(serial int64) []*protocol.ProtocolMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.prefixLocked(serial)
	out := make([]*protocol.ProtocolMessage, n)
	copy(out, q.entries[:n])
	return out
}

func (q *Queue) prefixLocked(serial int64) int {
	n := 0
	for _, pm := range q.entries {
		s, _ := pm.Serial()
		if s > serial {
			break
		}
		n++
	}
	return n
}

// FailAll empties the queue and resolves every message it held with err.
func (q *Queue) FailAll(err error) []*protocol.ProtocolMessage {
	q.mu.Lock()
	failed := q.entries
	q.entries = nil
	q.mu.Unlock()

	for _, pm := range failed {
		resolve(pm, err)
	}

	if len(failed) > 0 {
		q.logger.Warn("Failed pending messages",
			zap.Int("frames", len(failed)),
			zap.Error(err))
	}

	return failed
}

// Len returns the number of queued frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Serials returns the msgSerials of the queued frames, front first.
func (q *Queue) Serials() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]int64, len(q.entries))
	for i, pm := range q.entries {
		out[i], _ = pm.Serial()
	}
	return out
}
