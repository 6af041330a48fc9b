package api

import (
	"encoding/json"
	"net/http"
	"time"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	st := s.dispatch.Stats()
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:          "ok",
		UptimeSeconds:   int64(time.Since(s.startedAt).Seconds()),
		PendingRequests: st.PendingRequests,
		Clients:         st.Clients,
	})
}

// handleStats handles GET /v1/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Dispatch:         s.dispatch.Stats(),
		RequestTimeoutMS: s.dispatch.RequestTimeout().Milliseconds(),
	}
	if s.rates != nil {
		resp.Rates = s.rates.Snapshot()
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleConfigs handles GET /v1/configs. Properties come back in schema
// declaration order.
func (s *Server) handleConfigs(w http.ResponseWriter, r *http.Request) {
	all := s.dispatch.Schema().All()
	respondJSON(w, http.StatusOK, ConfigsResponse{
		Count:      len(all),
		Properties: all,
	})
}

// respondJSON is a helper to write JSON responses.
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
