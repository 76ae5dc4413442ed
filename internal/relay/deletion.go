package relay

import (
	"strconv"
	"strings"
)

// DeletionTargetKind distinguishes the two shapes a NIP-09 deletion target
// can take (§3, GLOSSARY).
type DeletionTargetKind int

const (
	DeletionTargetEventID DeletionTargetKind = iota
	DeletionTargetAddress
)

// DeletionTarget is one resolved target of a kind-5 deletion request.
type DeletionTarget struct {
	Kind    DeletionTargetKind
	EventID string         // populated when Kind == DeletionTargetEventID
	Address AddressableKey // populated when Kind == DeletionTargetAddress
}

// ExtractDeletionTargets derives the deletion targets of a kind-5 event from
// its tags (§3 Deletion Target). "e" tags with a non-empty id become EventId
// targets; "a" tags become Address targets after early-rejecting anything
// whose kind isn't an integer or whose pubkey doesn't match the requester.
func ExtractDeletionTargets(event *Event) []DeletionTarget {
	var targets []DeletionTarget
	for _, t := range event.Tags {
		if len(t) >= 2 && t[0] == "e" && t[1] != "" {
			targets = append(targets, DeletionTarget{Kind: DeletionTargetEventID, EventID: t[1]})
		}
	}
	for _, t := range event.Tags {
		if len(t) < 2 || t[0] != "a" {
			continue
		}
		if addr, ok := parseAddressTag(t[1], event.PubKey); ok {
			targets = append(targets, DeletionTarget{Kind: DeletionTargetAddress, Address: addr})
		}
	}
	return targets
}

// parseAddressTag parses an "a" tag value "<kind>:<pubkey>:<d_tag>". d_tag
// may itself contain colons, so the split is bounded to three parts from the
// left. Returns ok=false (early-reject) if kind isn't an integer or pubkey
// doesn't match requesterPubKey.
func parseAddressTag(value, requesterPubKey string) (AddressableKey, bool) {
	parts := strings.SplitN(value, ":", 3)
	if len(parts) != 3 {
		return AddressableKey{}, false
	}
	kind, err := strconv.Atoi(parts[0])
	if err != nil {
		return AddressableKey{}, false
	}
	pubkey := parts[1]
	if pubkey != requesterPubKey {
		return AddressableKey{}, false
	}
	return AddressableKey{PubKey: pubkey, Kind: kind, DTag: parts[2]}, true
}
