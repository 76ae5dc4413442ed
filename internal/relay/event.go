// Package relay implements the protocol-processing core of the Nostr relay:
// event validation, kind-class rules, filter evaluation, NIP-09 deletion
// target resolution, and the wire codec/parser for client/relay messages.
package relay

import (
	"github.com/nbd-wtf/go-nostr"
)

// Event is the relay's canonical event representation. It is a direct alias
// of nostr.Event so the cryptographic primitives (id hashing, Schnorr
// signature verification) stay in the library that already implements NIP-01,
// per the project's rule that crypto is never re-specified in this core.
type Event = nostr.Event

// Tag and Tags mirror the library's ordered-sequence-of-strings shape.
type Tag = nostr.Tag
type Tags = nostr.Tags

// KindClass is the lifecycle classification derived from Event.Kind (§3).
type KindClass int

const (
	KindRegular KindClass = iota
	KindReplaceable
	KindEphemeral
	KindAddressable
)

func (c KindClass) String() string {
	switch c {
	case KindReplaceable:
		return "replaceable"
	case KindEphemeral:
		return "ephemeral"
	case KindAddressable:
		return "addressable"
	default:
		return "regular"
	}
}

// ClassifyKind derives the Kind Class for a given event kind (§3).
//
//   - Replaceable: kind ∈ {0, 3} or 10000 ≤ kind < 20000.
//   - Ephemeral:   20000 ≤ kind < 30000.
//   - Addressable: 30000 ≤ kind < 40000.
//   - Regular:     everything else, including kind 5 (deletion requests,
//     which are Regular with additional side effects per C10).
func ClassifyKind(kind int) KindClass {
	switch {
	case kind == 0 || kind == 3:
		return KindReplaceable
	case kind >= 10000 && kind < 20000:
		return KindReplaceable
	case kind >= 20000 && kind < 30000:
		return KindEphemeral
	case kind >= 30000 && kind < 40000:
		return KindAddressable
	default:
		return KindRegular
	}
}

// IsDeletionRequest reports whether kind is a NIP-09 deletion request (kind 5).
func IsDeletionRequest(kind int) bool {
	return kind == 5
}

// DTag returns the first value of the first tag named "d", or "" if absent,
// per the Addressable identifier rule in §3/GLOSSARY.
func DTag(tags Tags) string {
	for _, t := range tags {
		if len(t) >= 1 && t[0] == "d" {
			if len(t) >= 2 {
				return t[1]
			}
			return ""
		}
	}
	return ""
}

// AddressableKey identifies the (pubkey, kind, d_tag) triple that an
// Addressable or Replaceable event occupies. For Replaceable events DTag is
// always "".
type AddressableKey struct {
	PubKey string
	Kind   int
	DTag   string
}

// KeyFor returns the replacement-identity key for e, valid for Replaceable
// and Addressable kind classes.
func KeyFor(e *Event) AddressableKey {
	key := AddressableKey{PubKey: e.PubKey, Kind: e.Kind}
	if ClassifyKind(e.Kind) == KindAddressable {
		key.DTag = DTag(e.Tags)
	}
	return key
}

// NewerIncumbent reports whether incumbent should remain stored over
// candidate under the kind-class replacement rule (§4.5 / §8 invariant 5):
// the event with the greatest created_at wins; ties are broken by the
// lexicographically smaller id.
func NewerIncumbent(incumbent, candidate *Event) bool {
	if incumbent.CreatedAt != candidate.CreatedAt {
		return incumbent.CreatedAt > candidate.CreatedAt
	}
	return incumbent.ID < candidate.ID
}
