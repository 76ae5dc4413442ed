// Package handler wires the pure components together into the protocol
// behavior described by §4.11 (Event Handler), §4.12 (Subscription Handler),
// and the disconnect orchestration implied by §4.7/§4.8 (Scenario S5):
// everything a single inbound text frame, or a connection's closure, sets
// in motion across C1-C10.
package handler

import (
	"context"
	"log/slog"

	"github.com/klppl/nostrelay/internal/index"
	"github.com/klppl/nostrelay/internal/relay"
	"github.com/klppl/nostrelay/internal/store"
	"github.com/klppl/nostrelay/internal/subscription"
)

// Sender is the subset of the transport layer (C9) the handler needs: a
// best-effort, per-connection send. Kept as a narrow interface so this
// package never imports gorilla/websocket directly.
type Sender interface {
	Send(connID string, data []byte) error
}

// Handler owns the wiring between a live connection's inbound frames and
// the relay's core components.
type Handler struct {
	validator  *relay.Validator
	store      store.EventStore
	index      index.QueryRepository
	subs       *subscription.Registry
	sender     Sender
	log        *slog.Logger
	limits     relay.LimitationConfig
}

// New builds a Handler.
func New(validator *relay.Validator, es store.EventStore, qr index.QueryRepository, subs *subscription.Registry, sender Sender, limits relay.LimitationConfig, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{validator: validator, store: es, index: qr, subs: subs, sender: sender, limits: limits, log: log}
}

// HandleMessage decodes and dispatches one inbound client frame (§4.4, §7).
// Parse failures produce a NOTICE (for frame-shape errors) or a CLOSED (when
// a subscription id was recoverable from a malformed REQ/CLOSE), matching
// the wire-level error classification in §4.4/§7.
func (h *Handler) HandleMessage(ctx context.Context, connID string, raw []byte) {
	msg, perr := relay.ParseMessage(raw)
	if perr != nil {
		h.handleParseError(connID, perr)
		return
	}

	switch msg.Type {
	case relay.MessageEvent:
		h.HandleEvent(ctx, connID, msg.EventJSON)
	case relay.MessageReq:
		h.HandleReq(ctx, connID, msg.SubscriptionID, msg.FilterJSON)
	case relay.MessageClose:
		h.HandleClose(connID, msg.SubscriptionID)
	}
}

func (h *Handler) handleParseError(connID string, perr *relay.ParseError) {
	if perr.Kind == relay.ErrInvalidSubscriptionId && perr.SubscriptionID != "" {
		h.sendClosed(connID, perr.SubscriptionID, relay.PrefixInvalid, perr.Message)
		return
	}
	h.sendNotice(connID, relay.PrefixError, perr.Message)
}

func (h *Handler) sendNotice(connID, prefix, text string) {
	body, err := relay.EncodeNotice(relay.WithPrefix(prefix, text))
	if err != nil {
		h.log.Error("failed to encode NOTICE", "error", err)
		return
	}
	h.send(connID, body)
}

func (h *Handler) sendOK(connID, eventID string, accepted bool, prefix, text string) {
	body, err := relay.EncodeOK(eventID, accepted, relay.WithPrefix(prefix, text))
	if err != nil {
		h.log.Error("failed to encode OK", "error", err)
		return
	}
	h.send(connID, body)
}

func (h *Handler) sendClosed(connID, subID, prefix, text string) {
	body, err := relay.EncodeClosed(subID, relay.WithPrefix(prefix, text))
	if err != nil {
		h.log.Error("failed to encode CLOSED", "error", err)
		return
	}
	h.send(connID, body)
}

func (h *Handler) sendEvent(connID, subID string, event *relay.Event) {
	body, err := relay.EncodeEvent(subID, event)
	if err != nil {
		h.log.Error("failed to encode EVENT", "error", err)
		return
	}
	h.send(connID, body)
}

func (h *Handler) sendEOSE(connID, subID string) {
	body, err := relay.EncodeEOSE(subID)
	if err != nil {
		h.log.Error("failed to encode EOSE", "error", err)
		return
	}
	h.send(connID, body)
}

func (h *Handler) send(connID, body string) {
	if err := h.sender.Send(connID, []byte(body)); err != nil {
		h.log.Debug("send failed", "conn_id", connID, "error", err)
	}
}

// Disconnect implements the disconnect orchestration of §4.7/§4.8: remove
// every subscription owned by connID so no further fan-out targets it.
func (h *Handler) Disconnect(connID string) {
	h.subs.DeleteByConnection(connID)
}
