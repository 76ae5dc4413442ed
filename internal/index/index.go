// Package index implements C6 (the read-optimized Query Repository), C13
// (the Index Synchronizer that keeps it consistent with the primary store),
// and C14 (full re-population from the primary store).
package index

import (
	"fmt"

	"github.com/klppl/nostrelay/internal/relay"
)

// ErrorKind classifies a query-repository failure (§4.6).
type ErrorKind string

const (
	ErrConnection      ErrorKind = "connection_error"
	ErrQuery           ErrorKind = "query_error"
	ErrTimeout         ErrorKind = "timeout"
	ErrDeserialization ErrorKind = "deserialization_error"
	ErrIndexNotFound   ErrorKind = "index_not_found"
)

// QueryError is the error type returned by QueryRepository.Query.
type QueryError struct {
	Kind ErrorKind
	Err  error
}

func (e *QueryError) Error() string { return fmt.Sprintf("index: %s: %v", e.Kind, e.Err) }
func (e *QueryError) Unwrap() error { return e.Err }

// Document is the secondary index's document shape (§6): one row per event,
// plus a derived tag_<letter> multi-value field for every single-letter tag
// name present on the event.
type Document struct {
	ID        string
	PubKey    string
	Kind      int
	CreatedAt int64
	Tags      map[string][]string // tag_<letter> -> values
	EventJSON string
}

// DocumentFromEvent derives a Document from a stored event, the same
// transform both C13 and C14 apply (§4.13).
func DocumentFromEvent(event *relay.Event, eventJSON string) Document {
	doc := Document{
		ID:        event.ID,
		PubKey:    event.PubKey,
		Kind:      event.Kind,
		CreatedAt: int64(event.CreatedAt),
		Tags:      make(map[string][]string),
		EventJSON: eventJSON,
	}
	for _, t := range event.Tags {
		if len(t) < 2 || len(t[0]) != 1 {
			continue
		}
		doc.Tags[t[0]] = append(doc.Tags[t[0]], t[1])
	}
	return doc
}

// QueryRepository is C6's public contract: translate a filter set into a
// backend query and return matches ordered by (created_at desc, id asc),
// truncated to limit.
type QueryRepository interface {
	Query(filters []*relay.Filter, limit int) ([]*relay.Event, *QueryError)
}

// Writer is the subset of index mutation operations C13/C14 need. It is
// kept separate from QueryRepository per §9's "never a single do-everything
// interface" design note.
type Writer interface {
	Upsert(doc Document) error
	DeleteByID(id string) error
}

// EffectiveLimit computes the bound C12 applies before calling Query (§4.6):
// the minimum per-filter limit if any filter specifies one, else
// defaultLimit, clamped to maxLimit.
func EffectiveLimit(filters []*relay.Filter, defaultLimit, maxLimit int) int {
	limit := 0
	for _, f := range filters {
		if f.Limit > 0 && (limit == 0 || f.Limit < limit) {
			limit = f.Limit
		}
	}
	if limit == 0 {
		limit = defaultLimit
	}
	if maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}
	return limit
}
