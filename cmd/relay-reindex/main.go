// relay-reindex fully re-populates the secondary query index from the
// primary event store (C14), for use after index data loss or when
// standing up a new index backend from an existing store.
//
// Usage:
//
//	export DATABASE_URL=relay.db
//	export INDEX_DATABASE_URL=relay-index.db
//	./relay-reindex -destructive=false
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/klppl/nostrelay/internal/config"
	"github.com/klppl/nostrelay/internal/index"
	"github.com/klppl/nostrelay/internal/store"
)

func main() {
	destructive := flag.Bool("destructive", false, "wipe the secondary index before rebuilding")
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg := config.Load()

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

	rebuilder := index.NewRebuilder(es, qr, log)
	result, err := rebuilder.Rebuild(context.Background(), *destructive)
	if err != nil {
		log.Error("rebuild failed", "error", err)
		os.Exit(1)
	}

	log.Info("rebuild complete",
		"upserted", result.Upserted,
		"skipped", result.Skipped,
		"errored", result.Errored,
		"last_cursor", result.LastCursor,
	)
}
