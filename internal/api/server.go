package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/die-net/xraysup/internal/portalloc"
	"github.com/die-net/xraysup/internal/supervisor"
	"github.com/die-net/xraysup/internal/xrayconfig"
)

// Server states reported by the API.
const (
	StatusRunning = "running"
	StatusStopped = "stopped"
	StatusUnknown = "unknown"
)

type serverResponse struct {
	Success        bool                  `json:"success"`
	Message        string                `json:"message"`
	ServerID       string                `json:"server_id,omitempty"`
	Status         string                `json:"status"`
	ProcessID      int                   `json:"process_id,omitempty"`
	StartTime      *time.Time            `json:"start_time,omitempty"`
	AllocatedPorts []xrayconfig.PortInfo `json:"allocated_ports,omitempty"`
}

type startRequest struct {
	SubscriptionID string          `json:"subscription_id"`
	Config         json.RawMessage `json:"config"`
}

func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	sup := h.cfg.Supervisor

	id, ok := sup.CurrentServerID()
	if !ok {
		writeJSON(w, http.StatusOK, serverResponse{Success: true, Message: "No server is currently running", Status: StatusStopped})
		return
	}

	rec, ok := sup.ProcessInfo(id)
	if !ok {
		writeJSON(w, http.StatusOK, serverResponse{Success: true, Message: "Server status unknown", ServerID: id, Status: StatusUnknown})
		return
	}

	writeJSON(w, http.StatusOK, serverResponse{
		Success:        true,
		Message:        "Server is running",
		ServerID:       id,
		Status:         StatusRunning,
		ProcessID:      rec.PID,
		StartTime:      &rec.StartTime,
		AllocatedPorts: sup.Ports(id),
	})
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	doc, err := xrayconfig.Parse(req.Config)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sup := h.cfg.Supervisor
	if cur, ok := sup.CurrentServerID(); ok && cur == id {
		writeJSON(w, http.StatusOK, serverResponse{Success: true, Message: "Server is already running", ServerID: id, Status: StatusRunning})
		return
	}

	st := h.settings()
	err = sup.StartAsCurrent(r.Context(), supervisor.StartRequest{
		ServerID:       id,
		SubscriptionID: req.SubscriptionID,
		Config:         doc,
		Ports:          portalloc.Pair{SOCKS: st.SOCKSPort, HTTP: st.HTTPPort},
	})
	if err != nil {
		h.log.Error("start failed", "server", id, "error", err)
		code := http.StatusInternalServerError
		if errors.Is(err, supervisor.ErrAlreadyRunning) {
			code = http.StatusConflict
		}
		writeError(w, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, serverResponse{Success: true, Message: "Server started successfully", ServerID: id, Status: StatusRunning})
}

func (h *Handler) stop(w http.ResponseWriter, r *http.Request) {
	sup := h.cfg.Supervisor

	id, ok := sup.CurrentServerID()
	if !ok {
		writeJSON(w, http.StatusOK, serverResponse{Success: true, Message: "No server is currently running", Status: StatusStopped})
		return
	}

	if err := sup.StopCurrent(r.Context()); err != nil {
		h.log.Error("stop failed", "server", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to stop server: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, serverResponse{Success: true, Message: "Server stopped successfully", ServerID: id, Status: StatusStopped})
}

// restart relaunches the current server with its configuration and the
// current port settings.
func (h *Handler) restart(w http.ResponseWriter, r *http.Request) {
	st := h.settings()
	err := h.cfg.Supervisor.RestartCurrent(r.Context(), supervisor.StartRequest{
		Ports: portalloc.Pair{SOCKS: st.SOCKSPort, HTTP: st.HTTPPort},
	})
	switch {
	case errors.Is(err, supervisor.ErrNoCurrentServer):
		writeError(w, http.StatusConflict, "No server is currently running")
		return
	case err != nil:
		h.log.Error("restart failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	id, _ := h.cfg.Supervisor.CurrentServerID()
	writeJSON(w, http.StatusOK, serverResponse{Success: true, Message: "Server restarted successfully", ServerID: id, Status: StatusRunning})
}
