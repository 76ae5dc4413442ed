package handler

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"

	"github.com/klppl/nostrelay/internal/index"
	"github.com/klppl/nostrelay/internal/relay"
	"github.com/klppl/nostrelay/internal/store"
	"github.com/klppl/nostrelay/internal/subscription"
)

// fakeSender records every frame sent to each connection, standing in for
// the real transport.Sender so handler tests don't need a live WebSocket.
type fakeSender struct {
	mu   sync.Mutex
	sent map[string][]string
}

func newFakeSender() *fakeSender { return &fakeSender{sent: make(map[string][]string)} }

func (f *fakeSender) Send(connID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[connID] = append(f.sent[connID], string(data))
	return nil
}

func (f *fakeSender) framesFor(connID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent[connID]...)
}

// newTestHandler wires a handler against real in-memory store/index
// instances, without a background synchronizer: tests that need the index
// populated call syncOne explicitly, keeping the index update deterministic
// instead of racing a goroutine against the test's own assertions.
func newTestHandler(t *testing.T) (*Handler, *store.SQLStore, *index.SQLIndex, *fakeSender, *subscription.Registry) {
	t.Helper()
	es, err := store.Open("sqlite://:memory:")
	require.NoError(t, err)
	t.Cleanup(func() { es.Close() })

	qr, err := index.Open("sqlite://:memory:")
	require.NoError(t, err)
	t.Cleanup(func() { qr.Close() })

	subs := subscription.New()
	sender := newFakeSender()
	limits := relay.DefaultLimitationConfig()
	validator := relay.NewValidator(limits)
	h := New(validator, es, qr, subs, sender, limits, nil)
	return h, es, qr, sender, subs
}

// syncOne drains and applies exactly one pending change record, used by
// tests that need the secondary index populated without racing a live
// synchronizer goroutine.
func syncOne(t *testing.T, es *store.SQLStore, qr *index.SQLIndex) {
	t.Helper()
	rec := <-es.Changes()
	require.NoError(t, index.NewSynchronizer(qr, nil).ApplyOne(rec))
}

func signedEventJSON(t *testing.T, kind int, content string, tags relay.Tags) []byte {
	t.Helper()
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)
	ev := nostr.Event{PubKey: pk, CreatedAt: nostr.Now(), Kind: kind, Tags: tags, Content: content}
	require.NoError(t, ev.Sign(sk))
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	return raw
}

func TestHandleEventSendsOKAndFanOut(t *testing.T) {
	h, _, _, sender, subs := newTestHandler(t)
	ctx := context.Background()

	subs.Upsert("conn1", "sub1", []*relay.Filter{{Kinds: []int{1}}})

	raw := signedEventJSON(t, 1, "hello world", relay.Tags{})
	h.HandleEvent(ctx, "author-conn", raw)

	frames := sender.framesFor("author-conn")
	require.Len(t, frames, 1)
	require.Contains(t, frames[0], `"OK"`)
	require.Contains(t, frames[0], "true")

	subFrames := sender.framesFor("conn1")
	require.Len(t, subFrames, 1)
	require.Contains(t, subFrames[0], `"EVENT"`)
}

func TestHandleEventRejectsInvalid(t *testing.T) {
	h, _, _, sender, _ := newTestHandler(t)
	h.HandleEvent(context.Background(), "conn1", []byte(`{"id":"x"}`))

	frames := sender.framesFor("conn1")
	require.Len(t, frames, 1)
	require.Contains(t, frames[0], "false")
	require.Contains(t, frames[0], "invalid:")
}

func TestHandleReqStreamsStoredEventsThenEOSE(t *testing.T) {
	h, es, qr, sender, _ := newTestHandler(t)
	ctx := context.Background()

	raw := signedEventJSON(t, 1, "stored note", relay.Tags{})
	var ev nostr.Event
	require.NoError(t, json.Unmarshal(raw, &ev))
	_, err := es.Save(ctx, &ev)
	require.NoError(t, err)
	syncOne(t, es, qr)

	h.HandleReq(ctx, "reader", "sub1", []json.RawMessage{json.RawMessage(`{"kinds":[1]}`)})

	frames := sender.framesFor("reader")
	require.NotEmpty(t, frames)
	require.Contains(t, frames[len(frames)-1], `"EOSE"`)
}

func TestHandleCloseRemovesSubscription(t *testing.T) {
	h, _, _, _, subs := newTestHandler(t)
	subs.Upsert("conn1", "sub1", nil)
	h.HandleClose("conn1", "sub1")
	require.False(t, subs.Exists("conn1", "sub1"))
}

func TestHandleEventSelfProtectsStoredDeletionEventFromEventIDTarget(t *testing.T) {
	h, es, _, sender, _ := newTestHandler(t)
	ctx := context.Background()

	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)

	stored := &nostr.Event{PubKey: pk, Kind: 5, Content: ""}
	require.NoError(t, stored.Sign(sk))
	_, err = es.Save(ctx, stored)
	require.NoError(t, err)

	second := &nostr.Event{PubKey: pk, CreatedAt: nostr.Now(), Kind: 5, Tags: relay.Tags{{"e", stored.ID}}, Content: ""}
	require.NoError(t, second.Sign(sk))
	raw, err := json.Marshal(second)
	require.NoError(t, err)

	h.HandleEvent(ctx, "conn1", raw)

	got, err := es.GetByID(ctx, stored.ID)
	require.NoError(t, err)
	require.NotNil(t, got, "a stored kind-5 event must never be deleted by another deletion request")

	frames := sender.framesFor("conn1")
	require.Len(t, frames, 1)
	require.Contains(t, frames[0], "true")
}

func TestHandleEventSelfProtectsStoredDeletionEventFromAddressTarget(t *testing.T) {
	h, es, _, sender, _ := newTestHandler(t)
	ctx := context.Background()

	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)

	// Kind 5 is Regular, not Addressable, so the stored row's d_tag column
	// is always empty; an "a" tag with an empty d_tag segment resolves to
	// the same (pubkey, kind=5, d_tag="") tuple. The handler must skip that
	// target rather than pass it on to DeleteByAddress.
	stored := &nostr.Event{PubKey: pk, Kind: 5, Content: ""}
	require.NoError(t, stored.Sign(sk))
	_, err = es.Save(ctx, stored)
	require.NoError(t, err)

	second := &nostr.Event{PubKey: pk, CreatedAt: nostr.Now(), Kind: 5, Tags: relay.Tags{{"a", "5:" + pk + ":"}}, Content: ""}
	require.NoError(t, second.Sign(sk))
	raw, err := json.Marshal(second)
	require.NoError(t, err)

	h.HandleEvent(ctx, "conn1", raw)

	got, err := es.GetByID(ctx, stored.ID)
	require.NoError(t, err)
	require.NotNil(t, got, "a stored kind-5 event must never be deleted via an address target naming kind 5")

	frames := sender.framesFor("conn1")
	require.Len(t, frames, 1)
	require.Contains(t, frames[0], "true")
}

func TestDisconnectClearsAllSubscriptions(t *testing.T) {
	h, _, _, _, subs := newTestHandler(t)
	subs.Upsert("conn1", "sub1", nil)
	subs.Upsert("conn1", "sub2", nil)
	h.Disconnect("conn1")
	require.Equal(t, 0, subs.CountByConnection("conn1"))
}
