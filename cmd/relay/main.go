// relay runs a self-contained Nostr relay: WebSocket event/subscription
// handling backed by a dual-driver SQL primary store and a SQL-backed
// secondary query index kept in sync via an internal change stream.
//
// Usage:
//
//	export DATABASE_URL=relay.db
//	export INDEX_DATABASE_URL=relay-index.db
//	export LISTEN_ADDR=:8000
//	./relay
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/klppl/nostrelay/internal/config"
	"github.com/klppl/nostrelay/internal/handler"
	"github.com/klppl/nostrelay/internal/httpapi"
	"github.com/klppl/nostrelay/internal/index"
	"github.com/klppl/nostrelay/internal/relay"
	"github.com/klppl/nostrelay/internal/store"
	"github.com/klppl/nostrelay/internal/subscription"
	"github.com/klppl/nostrelay/internal/transport"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(log)

	log.Info("starting relay")

	cfg := config.Load()
	log.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"database", cfg.DatabaseURL,
		"index_database", cfg.IndexDatabaseURL,
	)

	es, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to open event store", "error", err)
		os.Exit(1)
	}
	defer es.Close()

	qr, err := index.Open(cfg.IndexDatabaseURL)
	if err != nil {
		log.Error("failed to open secondary index", "error", err)
		os.Exit(1)
	}
	defer qr.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	synchronizer := index.NewSynchronizer(qr, log)
	go func() {
		stats := synchronizer.Run(ctx, es.Changes())
		log.Info("index synchronizer stopped", "success", stats.Success, "failure", stats.Failure, "skipped", stats.Skipped)
	}()

	subs := subscription.New()

	// h and sender are assigned below, once their dependency on registry is
	// satisfied; the closure resolves them at disconnect time, by which
	// point both are always set, so the registry's disconnect callback can
	// route through the real C12 disconnect orchestration in
	// Handler.Disconnect instead of duplicating its cleanup here, and drop
	// the sender's per-connection rate limiter.
	var h *handler.Handler
	var sender *transport.Sender
	registry := transport.NewRegistry(func(connID string) {
		h.Disconnect(connID)
		sender.Forget(connID)
	})
	sender = transport.NewSender(registry, cfg.SenderRatePerSecond, cfg.SenderBurst)

	validator := relay.NewValidator(cfg.Limits)
	h = handler.New(validator, es, qr, subs, sender, cfg.Limits, log)

	srv := httpapi.New(cfg, registry, h, &statsSnapshot{store: es, registry: registry}, log)
	if err := srv.Start(ctx); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	log.Info("relay stopped")
}

// statsSnapshot implements httpapi.StatsProvider, the §12 admin snapshot
// endpoint grounded on klistr's handleAdminStats.
type statsSnapshot struct {
	store    store.EventStore
	registry *transport.Registry
}

func (s *statsSnapshot) Stats() map[string]interface{} {
	return map[string]interface{}{
		"open_connections": s.registry.Count(),
	}
}
