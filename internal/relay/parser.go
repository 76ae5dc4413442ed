package relay

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// MessageType is the decoded wire-frame variant (§4.4).
type MessageType string

const (
	MessageEvent MessageType = "EVENT"
	MessageReq   MessageType = "REQ"
	MessageClose MessageType = "CLOSE"
)

// ClientMessage is the tagged-variant result of decoding a client text
// frame. Only the fields relevant to Type are populated.
type ClientMessage struct {
	Type MessageType

	// EVENT
	EventJSON json.RawMessage

	// REQ / CLOSE
	SubscriptionID string

	// REQ
	FilterJSON []json.RawMessage
}

// MaxSubscriptionIDLength is the wire-level bound on subscription_id length,
// in Unicode code points (§3, §6). LimitationConfig.MaxSubidLength defaults
// to this same value; the parser enforces it unconditionally since it is a
// protocol-level constraint, not a policy knob.
const MaxSubscriptionIDLength = 64

// ParseMessage decodes a client text frame into a ClientMessage, or fails
// with a classified ParseError (§4.4, §7).
func ParseMessage(raw []byte) (*ClientMessage, *ParseError) {
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, &ParseError{Kind: ErrInvalidJson, Message: "failed to parse JSON"}
	}

	arr, ok := decoded.([]interface{})
	if !ok || len(arr) == 0 {
		return nil, &ParseError{Kind: ErrNotArray, Message: "invalid message format"}
	}

	typeStr, ok := arr[0].(string)
	if !ok {
		return nil, &ParseError{Kind: ErrInvalidMessageType, Message: "invalid message format"}
	}

	switch typeStr {
	case string(MessageEvent):
		if len(arr) < 2 {
			return nil, &ParseError{Kind: ErrMissingFields, Message: "EVENT requires an event object"}
		}
		eventRaw, err := json.Marshal(arr[1])
		if err != nil {
			return nil, &ParseError{Kind: ErrNotArray, Message: "invalid event payload"}
		}
		return &ClientMessage{Type: MessageEvent, EventJSON: eventRaw}, nil

	case string(MessageReq):
		if len(arr) < 2 {
			return nil, &ParseError{Kind: ErrMissingFields, Message: "REQ requires a subscription id"}
		}
		subID, ok := arr[1].(string)
		if !ok {
			return nil, &ParseError{Kind: ErrMissingFields, Message: "subscription id must be a string"}
		}
		if err := ValidateSubscriptionID(subID); err != nil {
			return nil, &ParseError{Kind: ErrInvalidSubscriptionId, SubscriptionID: subID, Message: err.Error()}
		}
		filters := make([]json.RawMessage, 0, len(arr)-2)
		for _, f := range arr[2:] {
			fb, err := json.Marshal(f)
			if err != nil {
				return nil, &ParseError{Kind: ErrNotArray, SubscriptionID: subID, Message: "invalid filter payload"}
			}
			filters = append(filters, fb)
		}
		return &ClientMessage{Type: MessageReq, SubscriptionID: subID, FilterJSON: filters}, nil

	case string(MessageClose):
		if len(arr) < 2 {
			return nil, &ParseError{Kind: ErrMissingFields, Message: "CLOSE requires a subscription id"}
		}
		subID, ok := arr[1].(string)
		if !ok {
			return nil, &ParseError{Kind: ErrMissingFields, Message: "subscription id must be a string"}
		}
		if err := ValidateSubscriptionID(subID); err != nil {
			return nil, &ParseError{Kind: ErrInvalidSubscriptionId, SubscriptionID: subID, Message: err.Error()}
		}
		return &ClientMessage{Type: MessageClose, SubscriptionID: subID}, nil

	default:
		return nil, &ParseError{Kind: ErrUnknownMessageType, Message: fmt.Sprintf("unknown message type: %s", typeStr)}
	}
}

// ValidateSubscriptionID enforces the 1-64 Unicode code point rule shared by
// REQ and CLOSE (§3).
func ValidateSubscriptionID(id string) error {
	n := utf8.RuneCountInString(id)
	if n < 1 || n > MaxSubscriptionIDLength {
		return fmt.Errorf("subscription id must be 1-64 characters")
	}
	return nil
}
