package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tsarna/realtime/pkg/realtime/enum"
)

// ErrUnsupportedAction is returned for actions outside the Actions set.
var ErrUnsupportedAction = errors.New("unsupported protocol action")

// Action discriminates the meaning of a ProtocolMessage.
type Action string

const (
	ActionHeartbeat    Action = "heartbeat"
	ActionAck          Action = "ack"
	ActionNack         Action = "nack"
	ActionConnect      Action = "connect"
	ActionConnected    Action = "connected"
	ActionDisconnect   Action = "disconnect"
	ActionDisconnected Action = "disconnected"
	ActionClose        Action = "close"
	ActionClosed       Action = "closed"
	ActionError        Action = "error"
	ActionAttach       Action = "attach"
	ActionAttached     Action = "attached"
	ActionDetach       Action = "detach"
	ActionDetached     Action = "detached"
	ActionPresence     Action = "presence"
	ActionMessage      Action = "message"
)

// Actions is the closed set of protocol actions. Declaration order defines
// the wire code of each action.
var Actions = enum.New("protocol action",
	ActionHeartbeat,
	ActionAck,
	ActionNack,
	ActionConnect,
	ActionConnected,
	ActionDisconnect,
	ActionDisconnected,
	ActionClose,
	ActionClosed,
	ActionError,
	ActionAttach,
	ActionAttached,
	ActionDetach,
	ActionDetached,
	ActionPresence,
	ActionMessage,
)

// ParseAction coerces v into an Action.
func ParseAction(v any) (Action, error) {
	a, err := Actions.Parse(v)
	if err != nil {
		return a, fmt.Errorf("%w: %w", ErrUnsupportedAction, err)
	}
	return a, nil
}

// ActionFromCode returns the action with the given wire code.
func ActionFromCode(code int) (Action, error) {
	a, err := Actions.At(code)
	if err != nil {
		return a, fmt.Errorf("%w: code %d", ErrUnsupportedAction, code)
	}
	return a, nil
}

// Code returns the wire code of a, or -1 if a is not a declared action.
func (a Action) Code() int {
	return Actions.Index(a)
}

// String implements fmt.Stringer.
func (a Action) String() string {
	return string(a)
}

// MarshalJSON encodes a as its numeric wire code.
func (a Action) MarshalJSON() ([]byte, error) {
	code := a.Code()
	if code < 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAction, string(a))
	}
	return json.Marshal(code)
}

// UnmarshalJSON accepts either a numeric wire code or an action name.
func (a *Action) UnmarshalJSON(data []byte) error {
	var code int
	if err := json.Unmarshal(data, &code); err == nil {
		parsed, err := ActionFromCode(code)
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	}

	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("%w: %s", ErrUnsupportedAction, string(data))
	}

	parsed, err := ParseAction(name)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
