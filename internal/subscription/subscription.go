// Package subscription implements C7, the live subscription registry: which
// filters each open connection has asked to be notified about, keyed by
// (connection_id, subscription_id).
package subscription

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/klppl/nostrelay/internal/relay"
)

// Registry is C7's public contract (§4.7). It is safe for concurrent use
// by many connection goroutines at once, backed by xsync's lock-striped
// maps rather than a single mutex guarding a nested map-of-maps.
type Registry struct {
	// conns maps connection_id -> (subscription_id -> filters).
	conns *xsync.MapOf[string, *xsync.MapOf[string, []*relay.Filter]]
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{conns: xsync.NewMapOf[string, *xsync.MapOf[string, []*relay.Filter]]()}
}

// Upsert creates or replaces the filters for (connID, subID), matching REQ's
// re-subscribe-with-same-id semantics (§4.7, §4.12).
func (r *Registry) Upsert(connID, subID string, filters []*relay.Filter) {
	subs, _ := r.conns.LoadOrCompute(connID, func() *xsync.MapOf[string, []*relay.Filter] {
		return xsync.NewMapOf[string, []*relay.Filter]()
	})
	subs.Store(subID, filters)
}

// Delete removes one subscription. Returns false if it didn't exist.
func (r *Registry) Delete(connID, subID string) bool {
	subs, ok := r.conns.Load(connID)
	if !ok {
		return false
	}
	_, existed := subs.LoadAndDelete(subID)
	return existed
}

// DeleteByConnection removes every subscription owned by connID, called on
// disconnect (§4.7, Scenario S5).
func (r *Registry) DeleteByConnection(connID string) {
	r.conns.Delete(connID)
}

// Get returns the filters registered for (connID, subID).
func (r *Registry) Get(connID, subID string) ([]*relay.Filter, bool) {
	subs, ok := r.conns.Load(connID)
	if !ok {
		return nil, false
	}
	return subs.Load(subID)
}

// Exists reports whether (connID, subID) is currently registered.
func (r *Registry) Exists(connID, subID string) bool {
	_, ok := r.Get(connID, subID)
	return ok
}

// CountByConnection returns how many subscriptions connID currently holds,
// used to enforce the per-connection subscription limit (§4.12, §5).
func (r *Registry) CountByConnection(connID string) int {
	subs, ok := r.conns.Load(connID)
	if !ok {
		return 0
	}
	return subs.Size()
}

// Match is one (connection_id, subscription_id) whose filters matched an
// event, the unit the Event Handler (C11) fans a new event out to.
type Match struct {
	ConnID string
	SubID  string
}

// FindMatching scans every live subscription and returns every
// (connection, subscription) pair whose filters match event (§4.7, §4.11
// fan-out step). A full scan is the correctness-first implementation this
// repo ships; it is bounded by total live subscription count, not event
// volume, and is the same tradeoff C5's fallback Query makes.
func (r *Registry) FindMatching(event *relay.Event) []Match {
	var matches []Match
	r.conns.Range(func(connID string, subs *xsync.MapOf[string, []*relay.Filter]) bool {
		subs.Range(func(subID string, filters []*relay.Filter) bool {
			if relay.MatchesAny(event, filters) {
				matches = append(matches, Match{ConnID: connID, SubID: subID})
			}
			return true
		})
		return true
	})
	return matches
}
