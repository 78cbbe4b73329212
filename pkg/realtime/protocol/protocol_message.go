package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrUnassociated is returned when a derived field of a message or
	// presence entry is queried before it belongs to a ProtocolMessage.
	ErrUnassociated = errors.New("entry is not associated with a protocol message")
	// ErrMissingID is returned when an id must be derived from a frame that has none.
	ErrMissingID = errors.New("protocol message has no id")
)

// ProtocolMessage is one frame exchanged with the service.
type ProtocolMessage struct {
	Action       Action             `json:"action"`
	ID           string             `json:"id,omitempty"`
	Channel      string             `json:"channel,omitempty"`
	ConnectionID string             `json:"connectionId,omitempty"`
	MsgSerial    *int64             `json:"msgSerial,omitempty"`
	Count        int                `json:"count,omitempty"`
	Timestamp    int64              `json:"timestamp,omitempty"`
	Messages     []*Message         `json:"messages,omitempty"`
	Presence     []*PresenceMessage `json:"presence,omitempty"`
	Error        *ErrorInfo         `json:"error,omitempty"`
}

// NewMessageFrame builds a message frame for channel and associates msgs with it.
func NewMessageFrame(channel string, msgs ...*Message) *ProtocolMessage {
	pm := &ProtocolMessage{
		Action:   ActionMessage,
		Channel:  channel,
		Messages: msgs,
	}
	pm.Associate()
	return pm
}

// Associate points every nested message and presence entry back at pm.
func (pm *ProtocolMessage) Associate() {
	for i, m := range pm.Messages {
		if m != nil {
			m.owner = pm
			m.index = i
		}
	}
	for i, p := range pm.Presence {
		if p != nil {
			p.owner = pm
			p.index = i
		}
	}
}

// Serial returns the message serial, if present.
func (pm *ProtocolMessage) Serial() (int64, bool) {
	if pm.MsgSerial == nil {
		return 0, false
	}
	return *pm.MsgSerial, true
}

// SetSerial sets the message serial.
func (pm *ProtocolMessage) SetSerial(serial int64) {
	pm.MsgSerial = &serial
}

// AckRequired reports whether the service acknowledges frames with this action.
func (pm *ProtocolMessage) AckRequired() bool {
	return pm.Action == ActionMessage || pm.Action == ActionPresence
}

// String returns a short description for logs.
func (pm *ProtocolMessage) String() string {
	s := string(pm.Action)
	if pm.Channel != "" {
		s += " channel=" + pm.Channel
	}
	if serial, ok := pm.Serial(); ok {
		s += fmt.Sprintf(" msgSerial=%d", serial)
	}
	return s
}

func deriveID(owner *ProtocolMessage, index int) (string, error) {
	if owner == nil {
		return "", ErrUnassociated
	}
	if owner.ID == "" {
		return "", ErrMissingID
	}
	return fmt.Sprintf("%s:%d", owner.ID, index), nil
}

func deriveTimestamp(owner *ProtocolMessage) (int64, error) {
	if owner == nil {
		return 0, ErrUnassociated
	}
	return owner.Timestamp, nil
}
