package relay

import (
	"github.com/nbd-wtf/go-nostr"
)

// Filter is the relay's filter representation, reusing go-nostr's type
// (and its "#<x>" tag-key JSON unmarshaling) rather than re-implementing the
// wire shape.
type Filter = nostr.Filter

// Matches implements C2: AND across every predicate present in filter,
// OR is not applicable here (that's MatchesAny across a filter list).
func Matches(event *Event, filter *Filter) bool {
	if len(filter.IDs) > 0 && !containsString(filter.IDs, event.ID) {
		return false
	}
	if len(filter.Authors) > 0 && !containsString(filter.Authors, event.PubKey) {
		return false
	}
	if len(filter.Kinds) > 0 && !containsInt(filter.Kinds, event.Kind) {
		return false
	}
	if filter.Since != nil && event.CreatedAt < *filter.Since {
		return false
	}
	if filter.Until != nil && event.CreatedAt > *filter.Until {
		return false
	}
	for letter, values := range filter.Tags {
		if !eventHasTagValue(event.Tags, letter, values) {
			return false
		}
	}
	return true
}

// MatchesAny implements C2's matches_any: true if filters is empty (§4.2),
// else true iff event matches at least one filter in the list.
func MatchesAny(event *Event, filters []*Filter) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if Matches(event, f) {
			return true
		}
	}
	return false
}

// eventHasTagValue reports whether event has at least one tag named letter
// whose second element is among values.
func eventHasTagValue(tags Tags, letter string, values []string) bool {
	for _, t := range tags {
		if len(t) < 2 || t[0] != letter {
			continue
		}
		if containsString(values, t[1]) {
			return true
		}
	}
	return false
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func containsInt(haystack []int, needle int) bool {
	for _, n := range haystack {
		if n == needle {
			return true
		}
	}
	return false
}

// ValidateFilter rejects obviously malformed filters per §4.2: every id and
// author must be exactly 64 lowercase hex characters, and any single-letter
// tag filter value that happens to be 64 characters long (hex-like length,
// i.e. it looks like it was meant to be an id or pubkey reference) must be
// lowercase hex.
func ValidateFilter(f *Filter) *ValidationError {
	for _, id := range f.IDs {
		if !isLowerHex(id, 64) {
			return newValidationError(ErrInvalidIdFormat, "filter id must be lowercase hex")
		}
	}
	for _, author := range f.Authors {
		if !isLowerHex(author, 64) {
			return newValidationError(ErrInvalidPubkeyFormat, "filter author must be lowercase hex")
		}
	}
	for letter, values := range f.Tags {
		for _, v := range values {
			if len(v) == 64 && !isLowerHex(v, 64) {
				return newValidationError(ErrInvalidTagsFormat, "filter #"+letter+" value looks like a hex id but is not lowercase hex")
			}
		}
	}
	if f.Limit < 0 {
		return newValidationError(ErrInvalidTagsFormat, "limit must not be negative")
	}
	return nil
}
