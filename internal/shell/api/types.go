package api

import (
	"time"

	manifest "github.com/artpar/marathoner/internal/core/marathon"
	"github.com/artpar/marathoner/internal/core/ports"
	"github.com/artpar/marathoner/internal/core/status"
)

// =============================================================================
// Response Types
// =============================================================================

// CompileResponse is the result of a dry-run compilation.
type CompileResponse struct {
	Group        *manifest.Group  `json:"group"`
	StartupOrder []string         `json:"startup_order"`
	Failures     []CompileFailure `json:"failures,omitempty"`
}

// CompileFailure describes one node that did not compile.
type CompileFailure struct {
	NodeID string `json:"node_id,omitempty"`
	Field  string `json:"field,omitempty"`
	Error  string `json:"error"`
	Code   string `json:"code"`
}

// DeploymentResponse is the response for deployment operations.
type DeploymentResponse struct {
	ID           string    `json:"id"`
	GroupID      string    `json:"group_id"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ListDeploymentsResponse is the response for listing deployments.
type ListDeploymentsResponse struct {
	Deployments []DeploymentResponse `json:"deployments"`
	Limit       int                  `json:"limit"`
	Offset      int                  `json:"offset"`
}

// TasksResponse lists the known tasks of a deployment.
type TasksResponse struct {
	Tasks []status.Task `json:"tasks"`
}

// PortsResponse lists every service port assignment.
type PortsResponse struct {
	Ports []ports.Assignment `json:"ports"`
}

// ErrorResponse is the error response format. Compilation errors carry the
// offending node and field.
type ErrorResponse struct {
	Error    string           `json:"error"`
	Code     string           `json:"code"`
	NodeID   string           `json:"node_id,omitempty"`
	Field    string           `json:"field,omitempty"`
	Failures []CompileFailure `json:"failures,omitempty"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the readiness check response.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
