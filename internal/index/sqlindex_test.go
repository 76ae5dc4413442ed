package index

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/klppl/nostrelay/internal/relay"
)

func newTestIndex(t *testing.T) *SQLIndex {
	t.Helper()
	idx, err := Open("sqlite://:memory:")
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestUpsertAndQueryByAuthorAndKind(t *testing.T) {
	idx := newTestIndex(t)

	ev := &relay.Event{ID: "id1", PubKey: "author1", Kind: 1, CreatedAt: 1000, Tags: relay.Tags{{"p", "bob"}}}
	doc := DocumentFromEvent(ev, `{"id":"id1","pubkey":"author1","kind":1,"created_at":1000,"tags":[["p","bob"]]}`)
	require.NoError(t, idx.Upsert(doc))

	results, qerr := idx.Query([]*relay.Filter{{Authors: []string{"author1"}, Kinds: []int{1}}}, 10)
	require.Nil(t, qerr)
	require.Len(t, results, 1)
	require.Equal(t, "id1", results[0].ID)
}

func TestQueryByTag(t *testing.T) {
	idx := newTestIndex(t)

	ev := &relay.Event{ID: "id2", PubKey: "author2", Kind: 1, CreatedAt: 1000, Tags: relay.Tags{{"p", "carol"}}}
	doc := DocumentFromEvent(ev, `{"id":"id2","pubkey":"author2","kind":1,"created_at":1000,"tags":[["p","carol"]]}`)
	require.NoError(t, idx.Upsert(doc))

	results, qerr := idx.Query([]*relay.Filter{{Tags: map[string][]string{"p": {"carol"}}}}, 10)
	require.Nil(t, qerr)
	require.Len(t, results, 1)

	noMatch, qerr := idx.Query([]*relay.Filter{{Tags: map[string][]string{"p": {"dave"}}}}, 10)
	require.Nil(t, qerr)
	require.Len(t, noMatch, 0)
}

func TestDeleteByIDIsIdempotent(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.DeleteByID("never-existed"))

	ev := &relay.Event{ID: "id3", PubKey: "author3", Kind: 1, CreatedAt: 1000}
	doc := DocumentFromEvent(ev, `{"id":"id3"}`)
	require.NoError(t, idx.Upsert(doc))
	require.NoError(t, idx.DeleteByID("id3"))
	require.NoError(t, idx.DeleteByID("id3"))

	results, qerr := idx.Query([]*relay.Filter{{IDs: []string{"id3"}}}, 10)
	require.Nil(t, qerr)
	require.Len(t, results, 0)
}

func TestEffectiveLimit(t *testing.T) {
	require.Equal(t, 100, EffectiveLimit(nil, 100, 5000))
	require.Equal(t, 50, EffectiveLimit([]*relay.Filter{{Limit: 50}}, 100, 5000))
	require.Equal(t, 5000, EffectiveLimit([]*relay.Filter{{Limit: 9000}}, 100, 5000))
	require.Equal(t, 10, EffectiveLimit([]*relay.Filter{{Limit: 10}, {Limit: 40}}, 100, 5000))
}
