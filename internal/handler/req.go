package handler

import (
	"context"
	"encoding/json"

	"github.com/klppl/nostrelay/internal/index"
	"github.com/klppl/nostrelay/internal/relay"
)

// HandleReq implements C12 (§4.12): decode the filter list, enforce the
// per-connection subscription cap and per-filter validation, register the
// subscription, run the stored-event query, stream matches, then EOSE.
func (h *Handler) HandleReq(ctx context.Context, connID, subID string, filterJSON []json.RawMessage) {
	if !h.subs.Exists(connID, subID) && h.limits.MaxSubscriptions > 0 && h.subs.CountByConnection(connID) >= h.limits.MaxSubscriptions {
		h.sendClosed(connID, subID, relay.PrefixRateLimited, "too many subscriptions")
		return
	}

	filters := make([]*relay.Filter, 0, len(filterJSON))
	for _, fj := range filterJSON {
		var f relay.Filter
		if err := json.Unmarshal(fj, &f); err != nil {
			h.sendClosed(connID, subID, relay.PrefixInvalid, "malformed filter")
			return
		}
		if verr := relay.ValidateFilter(&f); verr != nil {
			h.sendClosed(connID, subID, relay.PrefixInvalid, verr.Message)
			return
		}
		filters = append(filters, &f)
	}

	h.subs.Upsert(connID, subID, filters)

	limit := index.EffectiveLimit(filters, h.limits.DefaultLimit, h.limits.MaxLimit)

	var events []*relay.Event
	var ok bool
	if h.index != nil {
		result, qerr := h.index.Query(filters, limit)
		if qerr != nil {
			h.log.Error("index query failed, falling back to primary store", "error", qerr)
			events, ok = h.queryPrimary(ctx, connID, subID, filters, limit)
		} else {
			events, ok = result, true
		}
	} else {
		events, ok = h.queryPrimary(ctx, connID, subID, filters, limit)
	}
	if !ok {
		return
	}

	for _, e := range events {
		h.sendEvent(connID, subID, e)
	}
	h.sendEOSE(connID, subID)
}

// queryPrimary falls back to the primary store's correctness-first Query
// when the secondary index is unavailable or errored, per §9's tolerance
// for the index lagging or failing independently of the primary store. On
// failure it sends a CLOSED itself and returns ok=false.
func (h *Handler) queryPrimary(ctx context.Context, connID, subID string, filters []*relay.Filter, limit int) ([]*relay.Event, bool) {
	events, err := h.store.Query(ctx, filters, limit)
	if err != nil {
		h.log.Error("primary store query failed", "error", err)
		h.sendClosed(connID, subID, relay.PrefixError, "query failed")
		return nil, false
	}
	return events, true
}

// HandleClose implements the CLOSE half of C12 (§4.12): remove one
// subscription. Closing a subscription id that does not exist is a no-op
// per the wire protocol (no error response is defined for it).
func (h *Handler) HandleClose(connID, subID string) {
	h.subs.Delete(connID, subID)
}
