// Package store implements C5, the primary key-value event store: ownership
// of events, kind-class replacement rules, deduplication, and the change
// stream consumed by the secondary-index synchronizer (C13).
package store

import (
	"context"
	"fmt"

	"github.com/klppl/nostrelay/internal/relay"
)

// SaveOutcome is the result of a Save call (§4.5).
type SaveOutcome int

const (
	Saved SaveOutcome = iota
	Replaced
	Duplicate
)

func (o SaveOutcome) String() string {
	switch o {
	case Saved:
		return "saved"
	case Replaced:
		return "replaced"
	default:
		return "duplicate"
	}
}

// WriteError wraps an infrastructure failure from the store (§4.5, §7
// StorageFailure).
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }

// ChangeOp identifies the kind of mutation a ChangeRecord describes,
// mirroring the primary store's change-stream record shape (§4.13, §6).
type ChangeOp string

const (
	ChangeInsert ChangeOp = "INSERT"
	ChangeModify ChangeOp = "MODIFY"
	ChangeRemove ChangeOp = "REMOVE"
)

// ChangeRecord is one entry in the ordered change stream C5 emits and C13
// consumes. NewImage is nil for REMOVE; OldImage is nil for INSERT.
type ChangeRecord struct {
	Op       ChangeOp
	EventID  string
	NewImage *relay.Event
	OldImage *relay.Event
}

// EventStore is C5's public contract.
type EventStore interface {
	// Save persists event according to its kind-class replacement rule.
	// Ephemeral events must not be saved; if Save is called with one anyway
	// it returns Duplicate without side effects (§4.5).
	Save(ctx context.Context, event *relay.Event) (SaveOutcome, error)

	// GetByID returns the event with the given id, or nil if absent.
	GetByID(ctx context.Context, id string) (*relay.Event, error)

	// Query is the read path; a full implementation may delegate to C6.
	// This store's own Query is a correctness-first fallback (a simple scan,
	// not the optimized filter-to-query translation of C6) that the
	// subscription handler (C12) uses when the secondary index is absent or
	// fails.
	Query(ctx context.Context, filters []*relay.Filter, limit int) ([]*relay.Event, error)

	// DeleteByID physically removes the event with the given id. Returns
	// false if no such event existed (idempotent).
	DeleteByID(ctx context.Context, id string) (bool, error)

	// DeleteByAddress removes every Addressable event matching the tuple
	// whose created_at is no later than beforeCreatedAt (§3 Deletion Target,
	// §4.10 step 3). Returns the number of rows removed.
	DeleteByAddress(ctx context.Context, pubkey string, kind int, dTag string, beforeCreatedAt int64) (int, error)

	// Changes returns the change stream consumed by the index synchronizer.
	// The channel is never closed by the store during normal operation.
	Changes() <-chan ChangeRecord

	Close() error
}
