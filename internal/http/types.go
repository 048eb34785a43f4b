package http

import (
	"time"

	"github.com/rokoss21/IOSM/internal/history"
	"github.com/rokoss21/IOSM/internal/orchestrator"
	"github.com/rokoss21/IOSM/internal/telemetry"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string                  `json:"status"`
	Version   string                  `json:"version,omitempty"`
	Telemetry *telemetry.HealthStatus `json:"telemetry,omitempty"`
}

// StatusResponse is the response body for GET /api/v1/systems/:system/status.
type StatusResponse struct {
	SystemID string              `json:"system_id"`
	Running  bool                `json:"running"`
	Live     *LiveStatus         `json:"live,omitempty"`
	LastRun  *history.RunSummary `json:"last_run,omitempty"`
}

// LiveStatus is the last engine event seen for a system.
type LiveStatus struct {
	RunID     string                 `json:"run_id"`
	Event     orchestrator.EventType `json:"event"`
	Cycle     int                    `json:"cycle,omitempty"`
	Phase     orchestrator.Phase     `json:"phase,omitempty"`
	Attempt   int                    `json:"attempt,omitempty"`
	Index     *float64               `json:"index,omitempty"`
	Error     string                 `json:"error,omitempty"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// HistoryResponse is the response body for GET /api/v1/systems/:system/history.
type HistoryResponse struct {
	SystemID string               `json:"system_id"`
	Runs     []history.RunSummary `json:"runs"`
	Entries  orchestrator.History `json:"entries"`
}

// RunRequest is the optional body of POST /api/v1/systems/:system/runs.
type RunRequest struct {
	Resume bool `json:"resume"`
}

// RunResponse is the response body for POST /api/v1/systems/:system/runs.
type RunResponse struct {
	SystemID string `json:"system_id"`
	RunID    string `json:"run_id"`
}
