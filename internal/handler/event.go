package handler

import (
	"context"
	"encoding/json"

	"github.com/klppl/nostrelay/internal/relay"
	"github.com/klppl/nostrelay/internal/store"
)

// HandleEvent implements C11 (§4.11): validate, apply NIP-09 deletion side
// effects when applicable, persist, acknowledge with OK, and fan the event
// out to every matching live subscription.
func (h *Handler) HandleEvent(ctx context.Context, connID string, eventJSON []byte) {
	event, verr := h.validator.Validate(eventJSON)
	if verr != nil {
		eventID := bestEffortEventID(eventJSON)
		h.sendOK(connID, eventID, false, relay.PrefixInvalid, verr.Message)
		return
	}

	if relay.IsDeletionRequest(event.Kind) {
		if err := h.applyDeletion(ctx, event); err != nil {
			h.sendOK(connID, event.ID, false, relay.PrefixError, "failed to process deletion")
			return
		}
	}

	outcome, err := h.store.Save(ctx, event)
	if err != nil {
		h.log.Error("save failed", "event_id", event.ID, "error", err)
		h.sendOK(connID, event.ID, false, relay.PrefixError, "could not write event")
		return
	}

	switch outcome {
	case store.Duplicate:
		if relay.ClassifyKind(event.Kind) == relay.KindEphemeral {
			h.sendOK(connID, event.ID, true, "", "")
			h.fanOut(event)
			return
		}
		h.sendOK(connID, event.ID, true, relay.PrefixDuplicate, "already have this event")
		return
	case store.Saved, store.Replaced:
		h.sendOK(connID, event.ID, true, "", "")
		h.fanOut(event)
	}
}

// applyDeletion implements C10's orchestration (§4.10): resolve the
// request's deletion targets and physically remove each one the requester
// is authorized to remove (event-id targets require ownership match,
// checked here since C10's pure resolution step already enforces it for
// address targets via parseAddressTag's pubkey check). A target whose
// resolved kind is itself a deletion request (kind 5) is skipped: kind-5
// events are self-protected and can never be deleted by another deletion
// request (§3, §4.10 steps 2-3).
func (h *Handler) applyDeletion(ctx context.Context, request *relay.Event) error {
	for _, target := range relay.ExtractDeletionTargets(request) {
		switch target.Kind {
		case relay.DeletionTargetEventID:
			existing, err := h.store.GetByID(ctx, target.EventID)
			if err != nil {
				return err
			}
			if existing == nil || existing.PubKey != request.PubKey {
				continue
			}
			if relay.IsDeletionRequest(existing.Kind) {
				continue
			}
			if _, err := h.store.DeleteByID(ctx, target.EventID); err != nil {
				return err
			}
		case relay.DeletionTargetAddress:
			addr := target.Address
			if relay.IsDeletionRequest(addr.Kind) {
				continue
			}
			if _, err := h.store.DeleteByAddress(ctx, addr.PubKey, addr.Kind, addr.DTag, int64(request.CreatedAt)); err != nil {
				return err
			}
		}
	}
	return nil
}

// fanOut delivers event to every live subscription whose filters match it
// (§4.7 fan-out, §4.11 step "broadcast").
func (h *Handler) fanOut(event *relay.Event) {
	for _, m := range h.subs.FindMatching(event) {
		h.sendEvent(m.ConnID, m.SubID, event)
	}
}

// bestEffortEventID extracts the "id" field from a malformed event payload
// for use in the OK response, falling back to "" if unavailable; OK still
// requires an event id even when validation failed before the id could be
// trusted (§4.3, §7).
func bestEffortEventID(raw []byte) string {
	var partial struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &partial); err != nil {
		return ""
	}
	return partial.ID
}
