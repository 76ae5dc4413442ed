package relay

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"
)

func signedEventJSON(t *testing.T, kind int, content string, tags Tags, createdAt int64) []byte {
	t.Helper()
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)

	ev := nostr.Event{
		PubKey:    pk,
		CreatedAt: nostr.Timestamp(createdAt),
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
	require.NoError(t, ev.Sign(sk))

	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	return raw
}

func TestValidatorAcceptsWellFormedEvent(t *testing.T) {
	now := time.Now().Unix()
	raw := signedEventJSON(t, 1, "hello", Tags{}, now)

	v := NewValidator(DefaultLimitationConfig())
	event, verr := v.Validate(raw)
	require.Nil(t, verr)
	require.NotNil(t, event)
	require.Equal(t, "hello", event.Content)
}

func TestValidatorRejectsMissingField(t *testing.T) {
	v := NewValidator(DefaultLimitationConfig())
	_, verr := v.Validate([]byte(`{"pubkey":"x"}`))
	require.NotNil(t, verr)
	require.Equal(t, ErrMissingField, verr.Kind)
}

func TestValidatorRejectsTamperedContent(t *testing.T) {
	now := time.Now().Unix()
	raw := signedEventJSON(t, 1, "hello", Tags{}, now)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &fields))
	fields["content"] = json.RawMessage(`"tampered"`)
	tampered, err := json.Marshal(fields)
	require.NoError(t, err)

	v := NewValidator(DefaultLimitationConfig())
	_, verr := v.Validate(tampered)
	require.NotNil(t, verr)
	require.Equal(t, ErrIdMismatch, verr.Kind)
}

func TestValidatorEnforcesContentLength(t *testing.T) {
	now := time.Now().Unix()
	raw := signedEventJSON(t, 1, "0123456789", Tags{}, now)

	limits := DefaultLimitationConfig()
	limits.MaxContentLength = 5
	v := NewValidator(limits)
	_, verr := v.Validate(raw)
	require.NotNil(t, verr)
	require.Equal(t, ErrContentTooLong, verr.Kind)
}

func TestValidatorEnforcesCreatedAtBounds(t *testing.T) {
	tooOld := time.Now().Add(-48 * time.Hour).Unix()
	raw := signedEventJSON(t, 1, "old", Tags{}, tooOld)

	limits := DefaultLimitationConfig()
	limits.CreatedAtLowerLimit = 3600
	v := NewValidator(limits)
	_, verr := v.Validate(raw)
	require.NotNil(t, verr)
	require.Equal(t, ErrCreatedAtTooOld, verr.Kind)
}
