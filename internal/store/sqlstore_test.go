package store

import (
	"context"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"

	"github.com/klppl/nostrelay/internal/relay"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open("sqlite://:memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func signedEvent(t *testing.T, kind int, createdAt int64, tags relay.Tags) *relay.Event {
	t.Helper()
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)
	ev := &nostr.Event{PubKey: pk, CreatedAt: nostr.Timestamp(createdAt), Kind: kind, Tags: tags, Content: "c"}
	require.NoError(t, ev.Sign(sk))
	return ev
}

func TestSaveRegularEventThenDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ev := signedEvent(t, 1, 1000, relay.Tags{})

	outcome, err := s.Save(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, Saved, outcome)

	outcome, err = s.Save(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, Duplicate, outcome)

	got, err := s.GetByID(ctx, ev.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, ev.ID, got.ID)
}

func TestSaveReplaceableKeepsNewest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)

	older := &nostr.Event{PubKey: pk, CreatedAt: 100, Kind: 0, Content: "old"}
	require.NoError(t, older.Sign(sk))
	newer := &nostr.Event{PubKey: pk, CreatedAt: 200, Kind: 0, Content: "new"}
	require.NoError(t, newer.Sign(sk))

	outcome, err := s.Save(ctx, older)
	require.NoError(t, err)
	require.Equal(t, Saved, outcome)

	outcome, err = s.Save(ctx, newer)
	require.NoError(t, err)
	require.Equal(t, Replaced, outcome)

	gotOld, err := s.GetByID(ctx, older.ID)
	require.NoError(t, err)
	require.Nil(t, gotOld, "replaced incumbent should be gone")

	gotNew, err := s.GetByID(ctx, newer.ID)
	require.NoError(t, err)
	require.NotNil(t, gotNew)
}

func TestSaveReplaceableResendOfSameIDIsDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ev := signedEvent(t, 0, 100, relay.Tags{})

	outcome, err := s.Save(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, Saved, outcome)

	outcome, err = s.Save(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, Duplicate, outcome, "resending the exact stored event must not be a replace")

	got, err := s.GetByID(ctx, ev.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, ev.ID, got.ID, "store must remain bit-identical after a duplicate resend")
}

func TestSaveReplaceableRejectsOlder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)

	newer := &nostr.Event{PubKey: pk, CreatedAt: 200, Kind: 0, Content: "new"}
	require.NoError(t, newer.Sign(sk))
	older := &nostr.Event{PubKey: pk, CreatedAt: 100, Kind: 0, Content: "old"}
	require.NoError(t, older.Sign(sk))

	_, err = s.Save(ctx, newer)
	require.NoError(t, err)

	outcome, err := s.Save(ctx, older)
	require.NoError(t, err)
	require.Equal(t, Duplicate, outcome)

	got, err := s.GetByID(ctx, newer.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestSaveEphemeralNeverPersists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ev := signedEvent(t, 20001, 1000, relay.Tags{})

	outcome, err := s.Save(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, Duplicate, outcome)

	got, err := s.GetByID(ctx, ev.ID)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestDeleteByAddress(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ev := signedEvent(t, 30023, 1000, relay.Tags{{"d", "article-1"}})

	_, err := s.Save(ctx, ev)
	require.NoError(t, err)

	n, err := s.DeleteByAddress(ctx, ev.PubKey, 30023, "article-1", 2000)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := s.GetByID(ctx, ev.ID)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestChangesEmitsInsertAndRemove(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ev := signedEvent(t, 1, 1000, relay.Tags{})

	_, err := s.Save(ctx, ev)
	require.NoError(t, err)
	rec := <-s.Changes()
	require.Equal(t, ChangeInsert, rec.Op)
	require.Equal(t, ev.ID, rec.EventID)

	_, err = s.DeleteByID(ctx, ev.ID)
	require.NoError(t, err)
	rec = <-s.Changes()
	require.Equal(t, ChangeRemove, rec.Op)
}

func TestPageEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ev := signedEvent(t, 1, int64(1000+i), relay.Tags{})
		_, err := s.Save(ctx, ev)
		require.NoError(t, err)
	}

	page, err := s.PageEvents(ctx, 2, "")
	require.NoError(t, err)
	require.Len(t, page, 2)

	rest, err := s.PageEvents(ctx, 2, page[len(page)-1].ID)
	require.NoError(t, err)
	require.Len(t, rest, 1)
}
