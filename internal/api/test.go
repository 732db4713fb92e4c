package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/die-net/xraysup/internal/connectivity"
	"github.com/die-net/xraysup/internal/xrayconfig"
)

type testTarget struct {
	ServerID string          `json:"server_id"`
	Config   json.RawMessage `json:"config"`
}

type testRequest struct {
	SubscriptionID string       `json:"subscription_id"`
	TimeoutSeconds float64      `json:"timeout_seconds"`
	Targets        []testTarget `json:"targets"`
}

type testResponse struct {
	Success    bool                  `json:"success"`
	Message    string                `json:"message"`
	Total      int                   `json:"total_servers"`
	Successful int                   `json:"successful_tests"`
	Failed     int                   `json:"failed_tests"`
	Results    []connectivity.Result `json:"results"`
}

// test probes every target concurrently. Targets without a server_id get a
// random one; targets whose config does not parse fail individually.
func (h *Handler) test(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Tester == nil {
		writeError(w, http.StatusNotImplemented, "connectivity testing is disabled")
		return
	}

	var req testRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	timeout := h.cfg.TestTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds * float64(time.Second))
	}

	targets := make([]connectivity.Target, len(req.Targets))
	parseErrs := make(map[int]error)
	for i, t := range req.Targets {
		id := t.ServerID
		if id == "" {
			id = uuid.NewString()
		}
		targets[i].ServerID = id

		doc, err := xrayconfig.Parse(t.Config)
		if err != nil {
			parseErrs[i] = err
			continue
		}
		targets[i].Config = doc
	}

	results := h.cfg.Tester.TestMany(r.Context(), targets, req.SubscriptionID, timeout)

	resp := testResponse{Success: true, Total: len(results), Results: results}
	for i := range resp.Results {
		if err, ok := parseErrs[i]; ok {
			resp.Results[i].Error = err.Error()
		}
		if resp.Results[i].Success {
			resp.Successful++
		} else {
			resp.Failed++
		}
	}
	resp.Message = fmt.Sprintf("Tested %d servers: %d successful, %d failed", resp.Total, resp.Successful, resp.Failed)
	if resp.Total == 0 {
		resp.Message = "No servers to test"
	}

	writeJSON(w, http.StatusOK, resp)
}
