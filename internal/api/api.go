package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/die-net/xraysup/internal/connectivity"
	"github.com/die-net/xraysup/internal/engine"
	"github.com/die-net/xraysup/internal/logging"
	"github.com/die-net/xraysup/internal/settings"
	"github.com/die-net/xraysup/internal/supervisor"
)

// Config wires a Handler.
type Config struct {
	Supervisor *supervisor.Supervisor
	Tester     *connectivity.Tester
	Settings   settings.Provider
	// Binary resolves the engine for the version endpoint. Nil means
	// engine.NewResolver(Settings).
	Binary engine.Resolver
	// Metrics, when set, is served at /metrics.
	Metrics http.Handler
	Logger  *slog.Logger
	// PollInterval is how often the log stream checks for a running server.
	PollInterval time.Duration
	// TestTimeout is the per-target probe timeout when a request names none.
	TestTimeout time.Duration
}

// Handler is the control API.
type Handler struct {
	cfg Config
	log *slog.Logger
	mux *http.ServeMux
}

// New builds the API routes.
func New(cfg Config) *Handler {
	if cfg.Binary == nil {
		cfg.Binary = engine.NewResolver(cfg.Settings)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.TestTimeout <= 0 {
		cfg.TestTimeout = 5 * time.Second
	}

	h := &Handler{cfg: cfg, log: logging.OrNop(cfg.Logger), mux: http.NewServeMux()}
	h.mux.HandleFunc("GET /api/server/status", h.status)
	h.mux.HandleFunc("POST /api/servers/{id}/start", h.start)
	h.mux.HandleFunc("POST /api/server/stop", h.stop)
	h.mux.HandleFunc("POST /api/server/restart", h.restart)
	h.mux.HandleFunc("GET /api/logs/stream", h.streamLogs)
	h.mux.HandleFunc("POST /api/test", h.test)
	h.mux.HandleFunc("GET /api/system/version", h.version)
	if cfg.Metrics != nil {
		h.mux.Handle("GET /metrics", cfg.Metrics)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) settings() settings.Settings {
	if h.cfg.Settings == nil {
		return settings.Settings{}
	}
	st, err := h.cfg.Settings.Load()
	if err != nil {
		h.log.Warn("loading settings failed", "error", err)
		return settings.Settings{}
	}
	return st
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Message: msg})
}
