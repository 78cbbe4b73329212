package protocol

import "sync"

// Message is a single application payload carried by a message frame.
type Message struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name,omitempty"`
	ClientID     string `json:"clientId,omitempty"`
	ConnectionID string `json:"connectionId,omitempty"`
	Data         any    `json:"data,omitempty"`
	Encoding     string `json:"encoding,omitempty"`
	Timestamp    int64  `json:"timestamp,omitempty"`

	owner *ProtocolMessage
	index int

	deliveryOnce sync.Once
	delivery     *Delivery
}

// NewMessage creates an outbound message.
func NewMessage(name string, data any) *Message {
	return &Message{Name: name, Data: data}
}

// ProtocolMessage returns the frame the message belongs to, or nil.
func (m *Message) ProtocolMessage() *ProtocolMessage {
	return m.owner
}

// ResolvedID returns the explicit id, or "{frame id}:{index}".
func (m *Message) ResolvedID() (string, error) {
	if m.ID != "" {
		return m.ID, nil
	}
	return deriveID(m.owner, m.index)
}

// ResolvedTimestamp returns the explicit timestamp, or the frame's.
func (m *Message) ResolvedTimestamp() (int64, error) {
	if m.Timestamp != 0 {
		return m.Timestamp, nil
	}
	return deriveTimestamp(m.owner)
}

// Delivery returns the delivery future for the message.
func (m *Message) Delivery() *Delivery {
	m.deliveryOnce.Do(func() {
		m.delivery = NewDelivery()
	})
	return m.delivery
}
