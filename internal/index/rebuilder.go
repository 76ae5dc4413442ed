package index

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/klppl/nostrelay/internal/relay"
)

// Pager is the paging subset of EventStore the rebuilder needs, kept as its
// own small interface so this package doesn't depend on internal/store's
// full EventStore surface (§9 "never a single do-everything interface"
// applies here too: a rebuild is a bulk read, not a write path).
type Pager interface {
	PageEvents(ctx context.Context, pageSize int, afterID string) ([]*relay.Event, error)
}

// RebuildResult summarizes one rebuilder run (§4.14).
type RebuildResult struct {
	Upserted   int
	Skipped    int
	Errored    int
	LastCursor string
}

// Rebuilder is C14: a full re-population of the secondary index from the
// primary store's events, for use after data loss or schema change in the
// index, or to seed a brand new index backend (§4.14, §9).
type Rebuilder struct {
	source    Pager
	dest      Writer
	pageSize  int
	log       *slog.Logger
}

// NewRebuilder builds a Rebuilder reading from source and writing into dest.
func NewRebuilder(source Pager, dest Writer, log *slog.Logger) *Rebuilder {
	if log == nil {
		log = slog.Default()
	}
	return &Rebuilder{source: source, dest: dest, pageSize: 500, log: log}
}

// Deleter is the optional destructive-reset capability a secondary index
// backend may support (e.g. SQLIndex.DeleteAll). Rebuild only calls it when
// destructive is true, a deliberate opt-in per §9's "destructive; guard
// behind explicit configuration" note.
type Deleter interface {
	DeleteAll(ctx context.Context) error
}

// Rebuild pages through every event in source and upserts it into dest. When
// destructive is true and dest also implements Deleter, the index is wiped
// first so the rebuild starts from an empty, guaranteed-consistent state;
// otherwise the rebuild is additive and leaves stale documents (for ids no
// longer in the primary store) untouched, matching the source's recovery
// tool's default non-destructive mode.
func (r *Rebuilder) Rebuild(ctx context.Context, destructive bool) (RebuildResult, error) {
	var result RebuildResult

	if destructive {
		if deleter, ok := r.dest.(Deleter); ok {
			if err := deleter.DeleteAll(ctx); err != nil {
				return result, err
			}
		} else {
			r.log.Warn("destructive rebuild requested but index backend cannot delete all")
		}
	}

	cursor := ""
	for {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		page, err := r.source.PageEvents(ctx, r.pageSize, cursor)
		if err != nil {
			return result, err
		}
		if len(page) == 0 {
			break
		}

		for _, event := range page {
			eventJSON, err := json.Marshal(event)
			if err != nil {
				r.log.Error("failed to encode event during rebuild", "event_id", event.ID, "error", err)
				result.Errored++
				continue
			}
			doc := DocumentFromEvent(event, string(eventJSON))
			if err := r.dest.Upsert(doc); err != nil {
				r.log.Error("rebuild upsert failed", "event_id", event.ID, "error", err)
				result.Errored++
				continue
			}
			result.Upserted++
		}

		cursor = page[len(page)-1].ID
		result.LastCursor = cursor

		if len(page) < r.pageSize {
			break
		}
	}

	r.log.Info("index rebuild complete",
		"upserted", result.Upserted, "skipped", result.Skipped, "errored", result.Errored)
	return result, nil
}
