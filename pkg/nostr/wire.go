package nostr

import (
	"encoding/json"
	"fmt"
)

// Filter is the subscription filter sent with a REQ frame. Only the fields
// the relayer uses are modeled; relays ignore absent fields.
type Filter struct {
	Kinds   []int    `json:"kinds,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Since   *int64   `json:"since,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

// Relay message types parsed from inbound frames
const (
	MsgEvent  = "EVENT"
	MsgEOSE   = "EOSE"
	MsgNotice = "NOTICE"
	MsgOK     = "OK"
)

// RelayMessage is a decoded inbound frame from an upstream relay
type RelayMessage struct {
	Type     string
	SubID    string
	Event    *Event
	Notice   string
	EventID  string
	Accepted bool
	Reason   string
}

// ReqFrame encodes ["REQ", subID, filter]
func ReqFrame(subID string, filter Filter) ([]byte, error) {
	return json.Marshal([]interface{}{"REQ", subID, filter})
}

// CloseFrame encodes ["CLOSE", subID]
func CloseFrame(subID string) ([]byte, error) {
	return json.Marshal([]interface{}{"CLOSE", subID})
}

// EventFrame encodes ["EVENT", event] for publication
func EventFrame(ev *Event) ([]byte, error) {
	return json.Marshal([]interface{}{"EVENT", ev})
}

// ParseRelayMessage decodes an inbound relay frame. Unknown frame types
// return an error; callers log and skip them.
func ParseRelayMessage(data []byte) (*RelayMessage, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("malformed relay frame: %w", err)
	}
	if len(raw) < 2 {
		return nil, fmt.Errorf("relay frame too short")
	}

	var msgType string
	if err := json.Unmarshal(raw[0], &msgType); err != nil {
		return nil, fmt.Errorf("malformed frame type: %w", err)
	}

	msg := &RelayMessage{Type: msgType}
	switch msgType {
	case MsgEvent:
		if len(raw) < 3 {
			return nil, fmt.Errorf("EVENT frame missing payload")
		}
		if err := json.Unmarshal(raw[1], &msg.SubID); err != nil {
			return nil, fmt.Errorf("malformed subscription id: %w", err)
		}
		msg.Event = &Event{}
		if err := json.Unmarshal(raw[2], msg.Event); err != nil {
			return nil, fmt.Errorf("malformed event payload: %w", err)
		}
	case MsgEOSE:
		if err := json.Unmarshal(raw[1], &msg.SubID); err != nil {
			return nil, fmt.Errorf("malformed subscription id: %w", err)
		}
	case MsgNotice:
		if err := json.Unmarshal(raw[1], &msg.Notice); err != nil {
			return nil, fmt.Errorf("malformed notice: %w", err)
		}
	case MsgOK:
		if err := json.Unmarshal(raw[1], &msg.EventID); err != nil {
			return nil, fmt.Errorf("malformed event id: %w", err)
		}
		if len(raw) >= 3 {
			_ = json.Unmarshal(raw[2], &msg.Accepted)
		}
		if len(raw) >= 4 {
			_ = json.Unmarshal(raw[3], &msg.Reason)
		}
	default:
		return nil, fmt.Errorf("unknown frame type %q", msgType)
	}

	return msg, nil
}
