package api

import (
	"github.com/mattjoyce/telltale/internal/dispatch"
	"github.com/mattjoyce/telltale/internal/prop"
	"github.com/mattjoyce/telltale/internal/stats"
)

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status          string `json:"status"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	PendingRequests int    `json:"pending_requests"`
	Clients         int    `json:"clients"`
}

// StatsResponse is returned by GET /v1/stats. Dispatch carries the lifetime
// counters, Rates the rolling per-interval figures.
type StatsResponse struct {
	Dispatch         dispatch.Stats `json:"dispatch"`
	Rates            stats.Snapshot `json:"rates"`
	RequestTimeoutMS int64          `json:"request_timeout_ms"`
}

// ConfigsResponse is returned by GET /v1/configs.
type ConfigsResponse struct {
	Count      int           `json:"count"`
	Properties []prop.Config `json:"properties"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}
