package index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/klppl/nostrelay/internal/relay"
	"github.com/klppl/nostrelay/internal/store"
)

func TestSynchronizerAppliesInsertAndRemove(t *testing.T) {
	idx := newTestIndex(t)
	sync := NewSynchronizer(idx, nil)

	ev := &relay.Event{ID: "id1", PubKey: "author1", Kind: 1, CreatedAt: 1000}
	changes := make(chan store.ChangeRecord, 4)
	changes <- store.ChangeRecord{Op: store.ChangeInsert, EventID: ev.ID, NewImage: ev}
	changes <- store.ChangeRecord{Op: store.ChangeRemove, EventID: ev.ID}
	close(changes)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	stats := sync.Run(ctx, changes)

	require.Equal(t, 2, stats.Success)
	require.Equal(t, 0, stats.Failure)

	results, qerr := idx.Query([]*relay.Filter{{IDs: []string{"id1"}}}, 10)
	require.Nil(t, qerr)
	require.Len(t, results, 0)
}

func TestSynchronizerSkipsNilNewImage(t *testing.T) {
	idx := newTestIndex(t)
	sync := NewSynchronizer(idx, nil)

	changes := make(chan store.ChangeRecord, 1)
	changes <- store.ChangeRecord{Op: store.ChangeInsert, EventID: "missing-image"}
	close(changes)

	stats := sync.Run(context.Background(), changes)
	require.Equal(t, 1, stats.Skipped)
	require.Equal(t, 0, stats.Success)
}
