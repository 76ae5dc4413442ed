package relay

import (
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/nbd-wtf/go-nostr"
)

// requiredEventFields are the seven fields §4.1 step 1 requires present.
var requiredEventFields = [...]string{"id", "pubkey", "created_at", "kind", "tags", "content", "sig"}

// Validator implements C1: structural, cryptographic, and policy validation
// of a client-supplied event.
type Validator struct {
	Limits LimitationConfig
	// Now supplies the current time for the created_at range checks; nil
	// means time.Now. Overridable in tests.
	Now func() time.Time
}

// NewValidator creates a Validator bound to the given LimitationConfig.
func NewValidator(limits LimitationConfig) *Validator {
	return &Validator{Limits: limits}
}

func (v *Validator) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// Validate runs the full §4.1 pipeline against a decoded JSON event object,
// returning either a typed Event or a classified ValidationError. Checks
// short-circuit at the first failure, in spec order.
func (v *Validator) Validate(raw json.RawMessage) (*Event, *ValidationError) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, newValidationError(ErrMissingField, "event must be a JSON object")
	}
	for _, f := range requiredEventFields {
		if _, ok := fields[f]; !ok {
			return nil, newValidationError(ErrMissingField, "missing field: "+f)
		}
	}

	var id, pubkey, sig string
	if err := json.Unmarshal(fields["id"], &id); err != nil || !isLowerHex(id, 64) {
		return nil, newValidationError(ErrInvalidIdFormat, "id must be 64 lowercase hex characters")
	}
	if err := json.Unmarshal(fields["pubkey"], &pubkey); err != nil || !isLowerHex(pubkey, 64) {
		return nil, newValidationError(ErrInvalidPubkeyFormat, "pubkey must be 64 lowercase hex characters")
	}
	if err := json.Unmarshal(fields["sig"], &sig); err != nil || !isLowerHex(sig, 128) {
		return nil, newValidationError(ErrInvalidSignatureFormat, "sig must be 128 lowercase hex characters")
	}

	var createdAt int64
	if err := json.Unmarshal(fields["created_at"], &createdAt); err != nil || createdAt < 0 {
		return nil, newValidationError(ErrInvalidTimestamp, "created_at must be a non-negative integer")
	}

	var kind int
	if err := json.Unmarshal(fields["kind"], &kind); err != nil {
		return nil, newValidationError(ErrInvalidKindRange, "kind must be an integer")
	}
	if kind < 0 || kind > 65535 {
		return nil, newValidationError(ErrInvalidKindRange, "kind must be in [0, 65535]")
	}

	var tags Tags
	if err := json.Unmarshal(fields["tags"], &tags); err != nil {
		return nil, newValidationError(ErrInvalidTagsFormat, "tags must be an array of arrays of strings")
	}

	var content string
	if err := json.Unmarshal(fields["content"], &content); err != nil {
		return nil, newValidationError(ErrInvalidContentFormat, "content must be a string")
	}

	event := &Event{
		ID:        id,
		PubKey:    pubkey,
		CreatedAt: nostr.Timestamp(createdAt),
		Kind:      kind,
		Tags:      tags,
		Content:   content,
		Sig:       sig,
	}

	// Cryptographic checks (steps 7-8): id recompute and Schnorr verification
	// are both delegated to go-nostr, which already implements NIP-01.
	if event.GetID() != event.ID {
		return nil, newValidationError(ErrIdMismatch, "id does not match canonical serialization")
	}
	ok, err := event.CheckSignature()
	if err != nil || !ok {
		return nil, newValidationError(ErrSignatureVerificationFailed, "signature verification failed")
	}

	// Policy checks (steps 9-12), parameterized by LimitationConfig. A zero
	// limit means "unbounded" so a zero-value LimitationConfig never rejects.
	if v.Limits.MaxEventTags > 0 && len(tags) > v.Limits.MaxEventTags {
		return nil, newValidationError(ErrTooManyTags, "too many tags")
	}
	if v.Limits.MaxContentLength > 0 && utf8.RuneCountInString(content) > v.Limits.MaxContentLength {
		return nil, newValidationError(ErrContentTooLong, "content too long")
	}

	now := v.now().Unix()
	if v.Limits.CreatedAtLowerLimit > 0 && now-createdAt > v.Limits.CreatedAtLowerLimit {
		return nil, newValidationError(ErrCreatedAtTooOld, "created_at too far in the past")
	}
	if v.Limits.CreatedAtUpperLimit > 0 && createdAt-now > v.Limits.CreatedAtUpperLimit {
		return nil, newValidationError(ErrCreatedAtTooFarInFuture, "created_at too far in the future")
	}

	return event, nil
}

// isLowerHex reports whether s is exactly n lowercase hexadecimal characters.
func isLowerHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
