package api

import "time"

// =============================================================================
// Response Types
// =============================================================================

// HealthResponse is the health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the readiness check response.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// ErrorResponse is the error response format.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// RunResponse is the response for run operations.
type RunResponse struct {
	ID        string               `json:"id"`
	Project   string               `json:"project"`
	Kind      string               `json:"kind"`
	ImageRef  string               `json:"image_ref,omitempty"`
	Status    string               `json:"status"`
	Error     string               `json:"error,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
	Services  []ServiceRunResponse `json:"services,omitempty"`
}

// ServiceRunResponse is one service outcome within a run.
type ServiceRunResponse struct {
	Service     string `json:"service"`
	State       string `json:"state"`
	ContainerID string `json:"container_id,omitempty"`
	ExitCode    int    `json:"exit_code"`
	Position    int    `json:"position"`
}

// RunListResponse is the response for listing runs.
type RunListResponse struct {
	Runs  []RunResponse `json:"runs"`
	Total int           `json:"total"`
}

// StackStatusResponse reports the live state of a project's containers.
type StackStatusResponse struct {
	Project  string                  `json:"project"`
	Services []ServiceStatusResponse `json:"services"`
}

// ServiceStatusResponse is one row of stack status.
type ServiceStatusResponse struct {
	Service     string `json:"service"`
	ContainerID string `json:"container_id"`
	State       string `json:"state"`
	Health      string `json:"health,omitempty"`
	ExitCode    int    `json:"exit_code"`
}
