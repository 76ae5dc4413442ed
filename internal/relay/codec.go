package relay

import "encoding/json"

// Machine-readable OK/CLOSED/NOTICE prefixes (§4.3, §7). Exactly these seven
// are recognized; anything else is a free-form NOTICE with no prefix.
const (
	PrefixDuplicate   = "duplicate"
	PrefixPoW         = "pow"
	PrefixBlocked     = "blocked"
	PrefixRateLimited = "rate-limited"
	PrefixInvalid     = "invalid"
	PrefixRestricted  = "restricted"
	PrefixError       = "error"
)

// WithPrefix joins a machine-readable prefix and free-text reason the way
// every OK/CLOSED/NOTICE body is formatted: "<prefix>: <text>".
func WithPrefix(prefix, text string) string {
	if prefix == "" {
		return text
	}
	if text == "" {
		return prefix + ":"
	}
	return prefix + ": " + text
}

// EncodeEvent renders ["EVENT", <subid>, <event>].
func EncodeEvent(subID string, event *Event) (string, error) {
	return encodeArray("EVENT", subID, event)
}

// EncodeOK renders ["OK", <event-id>, <bool>, "<prefix> <text>"]. accepted is
// true for success and for duplicate, false for any validation/policy/
// storage failure (§4.3).
func EncodeOK(eventID string, accepted bool, message string) (string, error) {
	return encodeArray("OK", eventID, accepted, message)
}

// EncodeEOSE renders ["EOSE", <subid>].
func EncodeEOSE(subID string) (string, error) {
	return encodeArray("EOSE", subID)
}

// EncodeClosed renders ["CLOSED", <subid>, "<prefix> <text>"].
func EncodeClosed(subID, message string) (string, error) {
	return encodeArray("CLOSED", subID, message)
}

// EncodeNotice renders ["NOTICE", "<prefix> <text>"].
func EncodeNotice(message string) (string, error) {
	return encodeArray("NOTICE", message)
}

func encodeArray(label string, rest ...interface{}) (string, error) {
	arr := make([]interface{}, 0, len(rest)+1)
	arr = append(arr, label)
	arr = append(arr, rest...)
	b, err := json.Marshal(arr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
