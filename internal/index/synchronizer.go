package index

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/klppl/nostrelay/internal/store"
)

// SyncStats accumulates per-record outcomes for one run of the synchronizer.
// Run returns it when it stops (cmd/relay logs it then); it is not part of
// the GET /stats snapshot.
type SyncStats struct {
	Success int
	Failure int
	Skipped int
}

// Synchronizer is C13: it drains the primary store's change stream and keeps
// the secondary index eventually consistent, tolerating at-least-once
// delivery by making every applied operation idempotent (§4.13, §9).
type Synchronizer struct {
	writer Writer
	log    *slog.Logger
}

// NewSynchronizer builds a Synchronizer writing into writer.
func NewSynchronizer(writer Writer, log *slog.Logger) *Synchronizer {
	if log == nil {
		log = slog.Default()
	}
	return &Synchronizer{writer: writer, log: log}
}

// Run consumes changes until ctx is cancelled or the channel is closed. It
// never returns an error: individual record failures are logged and counted,
// not fatal, since a synchronizer crash would stall every future event a
// rebuild (C14) can't retroactively fix on its own schedule.
func (s *Synchronizer) Run(ctx context.Context, changes <-chan store.ChangeRecord) SyncStats {
	var stats SyncStats
	for {
		select {
		case <-ctx.Done():
			return stats
		case rec, ok := <-changes:
			if !ok {
				return stats
			}
			s.apply(rec, &stats)
		}
	}
}

// ApplyOne applies a single change record, exported so tests and
// alternative drivers (e.g. a batch-replay tool) can reuse the exact
// per-record semantics Run uses.
func (s *Synchronizer) ApplyOne(rec store.ChangeRecord) error {
	var stats SyncStats
	s.apply(rec, &stats)
	if stats.Failure > 0 {
		return errApplyFailed
	}
	return nil
}

func (s *Synchronizer) apply(rec store.ChangeRecord, stats *SyncStats) {
	switch rec.Op {
	case store.ChangeInsert, store.ChangeModify:
		if rec.NewImage == nil {
			s.log.Warn("skipping change record with no new image", "op", rec.Op, "event_id", rec.EventID)
			stats.Skipped++
			return
		}
		eventJSON, err := json.Marshal(rec.NewImage)
		if err != nil {
			s.log.Error("failed to encode event for index", "event_id", rec.EventID, "error", err)
			stats.Failure++
			return
		}
		doc := DocumentFromEvent(rec.NewImage, string(eventJSON))
		if err := s.writer.Upsert(doc); err != nil {
			s.log.Error("index upsert failed", "event_id", rec.EventID, "error", err)
			stats.Failure++
			return
		}
		stats.Success++
	case store.ChangeRemove:
		if err := s.writer.DeleteByID(rec.EventID); err != nil {
			s.log.Error("index delete failed", "event_id", rec.EventID, "error", err)
			stats.Failure++
			return
		}
		stats.Success++
	default:
		s.log.Warn("skipping change record with unknown op", "op", rec.Op, "event_id", rec.EventID)
		stats.Skipped++
	}
}

type applyError string

func (e applyError) Error() string { return string(e) }

const errApplyFailed = applyError("index: apply failed")
