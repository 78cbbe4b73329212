package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedFrame is returned by Decode for frames with null message or
// presence entries.
var ErrMalformedFrame = errors.New("malformed protocol message")

// Encode serialises pm to its JSON wire form.
func Encode(pm *ProtocolMessage) ([]byte, error) {
	if pm == nil {
		return nil, fmt.Errorf("encode: nil protocol message")
	}
	data, err := json.Marshal(pm)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", pm.Action, err)
	}
	return data, nil
}

// Decode parses a JSON frame and associates its nested entries with it.
// Frames without an action, or with an unknown action code, are rejected
// with an error wrapping ErrUnsupportedAction, and frames with null nested
// entries with one wrapping ErrMalformedFrame.
func Decode(data []byte) (*ProtocolMessage, error) {
	var pm ProtocolMessage
	if err := json.Unmarshal(data, &pm); err != nil {
		return nil, fmt.Errorf("decode protocol message: %w", err)
	}
	if !Actions.Contains(pm.Action) {
		return nil, fmt.Errorf("%w: frame has no action", ErrUnsupportedAction)
	}
	for i, m := range pm.Messages {
		if m == nil {
			return nil, fmt.Errorf("%w: %s: null entry at messages[%d]", ErrMalformedFrame, pm.Action, i)
		}
	}
	for i, p := range pm.Presence {
		if p == nil {
			return nil, fmt.Errorf("%w: %s: null entry at presence[%d]", ErrMalformedFrame, pm.Action, i)
		}
	}

	pm.Associate()
	return &pm, nil
}
