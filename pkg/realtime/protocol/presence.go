package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tsarna/realtime/pkg/realtime/enum"
)

// PresenceAction is the kind of a presence entry.
type PresenceAction string

const (
	PresenceEnter  PresenceAction = "enter"
	PresenceLeave  PresenceAction = "leave"
	PresenceUpdate PresenceAction = "update"
)

// PresenceActions is the closed set of presence actions, in wire code order.
var PresenceActions = enum.New("presence action", PresenceEnter, PresenceLeave, PresenceUpdate)

// MarshalJSON encodes a as its numeric wire code.
func (a PresenceAction) MarshalJSON() ([]byte, error) {
	code := PresenceActions.Index(a)
	if code < 0 {
		return nil, fmt.Errorf("%w: %q is not a %s", enum.ErrInvalidValue, string(a), PresenceActions.Name())
	}
	return json.Marshal(code)
}

// UnmarshalJSON accepts a numeric wire code or an action name.
func (a *PresenceAction) UnmarshalJSON(data []byte) error {
	var code int
	if err := json.Unmarshal(data, &code); err == nil {
		parsed, err := PresenceActions.At(code)
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	}

	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("%w: %s", enum.ErrInvalidValue, string(data))
	}
	parsed, err := PresenceActions.Parse(name)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// PresenceMessage is one presence entry nested in a presence frame.
type PresenceMessage struct {
	Action       PresenceAction `json:"action"`
	ID           string         `json:"id,omitempty"`
	ClientID     string         `json:"clientId,omitempty"`
	MemberID     string         `json:"memberId,omitempty"`
	ConnectionID string         `json:"connectionId,omitempty"`
	ClientData   any            `json:"clientData,omitempty"`
	Timestamp    int64          `json:"timestamp,omitempty"`

	owner *ProtocolMessage
	index int
}

// ProtocolMessage returns the frame the entry belongs to, or nil.
func (p *PresenceMessage) ProtocolMessage() *ProtocolMessage {
	return p.owner
}

// ResolvedID returns the explicit id, or "{frame id}:{index}".
func (p *PresenceMessage) ResolvedID() (string, error) {
	if p.ID != "" {
		return p.ID, nil
	}
	return deriveID(p.owner, p.index)
}

// ResolvedTimestamp returns the explicit timestamp, or the frame's.
func (p *PresenceMessage) ResolvedTimestamp() (int64, error) {
	if p.Timestamp != 0 {
		return p.Timestamp, nil
	}
	return deriveTimestamp(p.owner)
}

// ResolvedConnectionID returns the explicit connection id, or the frame's.
func (p *PresenceMessage) ResolvedConnectionID() (string, error) {
	if p.ConnectionID != "" {
		return p.ConnectionID, nil
	}
	if p.owner == nil {
		return "", ErrUnassociated
	}
	return p.owner.ConnectionID, nil
}

// ResolvedMemberID returns the explicit member id, or "{connectionId}:{clientId}".
func (p *PresenceMessage) ResolvedMemberID() (string, error) {
	if p.MemberID != "" {
		return p.MemberID, nil
	}
	connID, err := p.ResolvedConnectionID()
	if err != nil {
		return "", err
	}
	return connID + ":" + p.ClientID, nil
}

// IsNewerThan reports whether p supersedes other for the same member.
//
// Ids of the form "{prefix}:{serial}:{index}" sharing a prefix are compared
// by serial and then index. Any other pair is compared by timestamp, with
// ties going to p.
func (p *PresenceMessage) IsNewerThan(other *PresenceMessage) (bool, error) {
	pid, err := p.ResolvedID()
	if err != nil {
		return false, err
	}
	oid, err := other.ResolvedID()
	if err != nil {
		return false, err
	}

	pPrefix, pSerial, pIndex, pok := splitPresenceID(pid)
	oPrefix, oSerial, oIndex, ook := splitPresenceID(oid)
	if pok && ook && pPrefix == oPrefix {
		if pSerial != oSerial {
			return pSerial > oSerial, nil
		}
		return pIndex > oIndex, nil
	}

	pts, err := p.ResolvedTimestamp()
	if err != nil {
		return false, err
	}
	ots, err := other.ResolvedTimestamp()
	if err != nil {
		return false, err
	}
	return pts >= ots, nil
}

func splitPresenceID(id string) (prefix string, serial, index int64, ok bool) {
	last := strings.LastIndexByte(id, ':')
	if last <= 0 {
		return "", 0, 0, false
	}
	mid := strings.LastIndexByte(id[:last], ':')
	if mid <= 0 {
		return "", 0, 0, false
	}

	serial, err := strconv.ParseInt(id[mid+1:last], 10, 64)
	if err != nil {
		return "", 0, 0, false
	}
	index, err = strconv.ParseInt(id[last+1:], 10, 64)
	if err != nil {
		return "", 0, 0, false
	}
	return id[:mid], serial, index, true
}
