package api

import (
	"net/http"

	"github.com/die-net/xraysup/internal/engine"
)

func (h *Handler) version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, engine.ProbeVersion(r.Context(), h.cfg.Binary()))
}
