package api

import (
	"context"
	"net/http"
	"time"
)

type infoEvent struct {
	Message string `json:"message"`
}

type errorEvent struct {
	Error string `json:"error"`
}

// streamLogs sends the current server's log as server-sent events. While no
// server runs it sends an "info" event and waits for one.
func (h *Handler) streamLogs(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	ctx := r.Context()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(event string, v any) bool {
		if err := writeEvent(w, event, v); err != nil {
			h.log.Debug("log stream write failed", "error", err)
			return false
		}
		if err := rc.Flush(); err != nil {
			h.log.Debug("log stream flush failed", "error", err)
			return false
		}
		return true
	}

	sup := h.cfg.Supervisor
	if _, ok := sup.CurrentServerID(); !ok {
		if !send("info", infoEvent{Message: "No server is currently running"}) {
			return
		}
		if !h.waitForServer(ctx) {
			return
		}
		if !send("info", infoEvent{Message: "Server started, beginning log stream"}) {
			return
		}
	}

	for le := range sup.CurrentLogs(ctx) {
		if !send("log", le) {
			return
		}
	}
	if err := ctx.Err(); err == nil {
		send("info", infoEvent{Message: "Server stopped"})
	}
}

func (h *Handler) waitForServer(ctx context.Context) bool {
	ticker := time.NewTicker(h.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, ok := h.cfg.Supervisor.CurrentServerID(); ok {
			return true
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return false
		}
	}
}
