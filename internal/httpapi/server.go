// Package httpapi is the relay's HTTP surface: the NIP-11 relay information
// document, health and stats endpoints, and the WebSocket upgrade that hands
// a connection off to internal/transport, built the way klistr's
// internal/server package builds its chi router.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/klppl/nostrelay/internal/config"
	"github.com/klppl/nostrelay/internal/handler"
	"github.com/klppl/nostrelay/internal/transport"
)

const nostrJSONType = "application/nostr+json"

// StatsProvider supplies the admin snapshot for GET /stats, grounded on
// klistr's handleAdminStats (§12's supplemented admin endpoint).
type StatsProvider interface {
	Stats() map[string]interface{}
}

// Server is the relay's HTTP server.
type Server struct {
	cfg       *config.Config
	registry  *transport.Registry
	handler   *handler.Handler
	stats     StatsProvider
	upgrader  websocket.Upgrader
	router    *chi.Mux
	startedAt time.Time
	log       *slog.Logger
}

// New builds a Server and its router.
func New(cfg *config.Config, registry *transport.Registry, h *handler.Handler, stats StatsProvider, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		registry:  registry,
		handler:   h,
		stats:     stats,
		startedAt: time.Now(),
		log:       log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware(s.log))
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/stats", s.handleStats)
	r.Get("/", s.handleRoot)

	return r
}

// handleRoot serves the NIP-11 relay information document when the client
// asks for application/nostr+json (or ?format=json), upgrades WebSocket
// upgrade requests, and serves the document for any other request — the
// standard dual-purpose "/" a Nostr relay exposes.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Accept") == nostrJSONType || r.URL.Query().Get("format") == "json" {
		s.handleRelayInfo(w, r)
		return
	}
	if websocket.IsWebSocketUpgrade(r) {
		s.handleWebSocket(w, r)
		return
	}
	s.handleRelayInfo(w, r)
}

func (s *Server) handleRelayInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", nostrJSONType)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if err := json.NewEncoder(w).Encode(s.cfg.RelayInfo()); err != nil {
		s.log.Error("failed to encode relay info", "error", err)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "error", err)
		return
	}
	s.registry.Accept(conn, func(connID string, data []byte) {
		s.handler.HandleMessage(r.Context(), connID, data)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snapshot := map[string]interface{}{
		"uptime_seconds":      time.Since(s.startedAt).Seconds(),
		"connected_clients":   s.registry.Count(),
	}
	if s.stats != nil {
		for k, v := range s.stats.Stats() {
			snapshot[k] = v
		}
	}
	jsonResponse(w, snapshot, http.StatusOK)
}

// Start runs the HTTP server until ctx is cancelled, grounded on klistr's
// Server.Start graceful-shutdown pattern.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info("starting HTTP server", "addr", s.cfg.ListenAddr)

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.registry.Shutdown()
		if err := srv.Shutdown(shutCtx); err != nil {
			s.log.Error("server shutdown error", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func jsonResponse(w http.ResponseWriter, v interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func loggingMiddleware(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			log.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.status,
				"duration", time.Since(start),
				"remote", r.RemoteAddr,
			)
		})
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
