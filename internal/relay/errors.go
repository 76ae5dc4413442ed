package relay

import "fmt"

// ValidationErrorKind classifies a C1 validation failure (§4.1).
type ValidationErrorKind string

const (
	ErrMissingField               ValidationErrorKind = "missing_field"
	ErrInvalidIdFormat            ValidationErrorKind = "invalid_id_format"
	ErrInvalidPubkeyFormat        ValidationErrorKind = "invalid_pubkey_format"
	ErrInvalidSignatureFormat     ValidationErrorKind = "invalid_signature_format"
	ErrInvalidKindRange           ValidationErrorKind = "invalid_kind_range"
	ErrInvalidTagsFormat          ValidationErrorKind = "invalid_tags_format"
	ErrInvalidContentFormat       ValidationErrorKind = "invalid_content_format"
	ErrInvalidTimestamp           ValidationErrorKind = "invalid_timestamp"
	ErrIdMismatch                 ValidationErrorKind = "id_mismatch"
	ErrSignatureVerificationFailed ValidationErrorKind = "signature_verification_failed"
	ErrTooManyTags                ValidationErrorKind = "too_many_tags"
	ErrContentTooLong             ValidationErrorKind = "content_too_long"
	ErrCreatedAtTooOld            ValidationErrorKind = "created_at_too_old"
	ErrCreatedAtTooFarInFuture    ValidationErrorKind = "created_at_too_far_in_future"
)

// ValidationError is the error type returned by Validator.Validate. Message
// is the human-readable reason used verbatim after the "invalid: " prefix
// in the OK response (§7).
type ValidationError struct {
	Kind    ValidationErrorKind
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newValidationError(kind ValidationErrorKind, message string) *ValidationError {
	return &ValidationError{Kind: kind, Message: message}
}

// ParseErrorKind classifies a C4 wire-frame decode failure.
type ParseErrorKind string

const (
	ErrInvalidJson          ParseErrorKind = "invalid_json"
	ErrNotArray             ParseErrorKind = "not_array"
	ErrInvalidMessageType   ParseErrorKind = "invalid_message_type"
	ErrUnknownMessageType   ParseErrorKind = "unknown_message_type"
	ErrMissingFields        ParseErrorKind = "missing_fields"
	ErrInvalidSubscriptionId ParseErrorKind = "invalid_subscription_id"
)

// ParseError is the error type returned by ParseMessage.
type ParseError struct {
	Kind ParseErrorKind
	// SubscriptionID is populated when a subscription id was syntactically
	// recoverable from the frame even though the frame itself failed to
	// parse (e.g. InvalidSubscriptionId), so the caller can echo it in a
	// CLOSED response.
	SubscriptionID string
	Message        string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}
