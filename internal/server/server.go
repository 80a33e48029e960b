// Package server exposes the event stream and the control API over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ayusman/viewersense/internal/broadcast"
	"github.com/ayusman/viewersense/internal/params"
	"github.com/ayusman/viewersense/internal/server/api"
)

// Defaults for the listener and the websocket keepalive.
const (
	DefaultHost      = "localhost"
	DefaultPort      = 12345
	DefaultReadLimit = 4096

	shutdownTimeout = 5 * time.Second
)

// PresenceSource reports the current debounced presence.
type PresenceSource interface {
	ViewerPresent() bool
}

// Config holds the server configuration.
type Config struct {
	// Addr is the host:port to listen on.
	Addr string
	Hub  *broadcast.Hub

	// Params enables /api/params when set.
	Params params.Updater

	// Presence feeds viewer_present in /api/health when set.
	Presence PresenceSource

	// ReadLimit bounds inbound websocket messages, which are discarded.
	ReadLimit int64
	// PingPeriod and PongWait drive the websocket keepalive.
	PingPeriod time.Duration
	PongWait   time.Duration

	Logger *slog.Logger
}

// Server represents the HTTP server.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
	logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	if config.ReadLimit <= 0 {
		config.ReadLimit = DefaultReadLimit
	}
	if config.PongWait <= 0 {
		config.PongWait = pongWait
	}
	if config.PingPeriod <= 0 || config.PingPeriod >= config.PongWait {
		config.PingPeriod = (config.PongWait * 9) / 10
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
		logger: config.Logger.With("component", "server"),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Params != nil {
		s.mux.Handle("/api/params", api.NewParamsHandler(s.config.Params, s.config.Logger))
	}

	if s.config.Hub != nil {
		s.mux.Handle("/{$}", &WebSocketHandler{
			hub:        s.config.Hub,
			logger:     s.logger,
			readLimit:  s.config.ReadLimit,
			pingPeriod: s.config.PingPeriod,
			pongWait:   s.config.PongWait,
		})
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).Round(time.Second).String(),
	}
	if s.config.Hub != nil {
		response["clients"] = s.config.Hub.ClientCount()
	}
	if s.config.Presence != nil {
		response["viewer_present"] = s.config.Presence.ViewerPresent()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// Serve listens on the configured address and serves until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is cancelled, then stops accepting and
// waits briefly for in-flight requests. Upgraded websocket connections are
// not tracked by the HTTP server; the hub closes them.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http shutdown", "error", err)
		}
	}()

	s.logger.Info("listening", "addr", ln.Addr().String())
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		<-stopped
		return nil
	}
	return err
}
