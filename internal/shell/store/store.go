package store

import (
	"context"

	"github.com/artpar/marathoner/internal/core/ports"
	"github.com/artpar/marathoner/internal/core/status"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface.
type Store interface {
	// Deployment operations
	CreateDeployment(ctx context.Context, deployment *status.Deployment) error
	GetDeployment(ctx context.Context, id string) (*status.Deployment, error)
	GetDeploymentByGroup(ctx context.Context, groupID string) (*status.Deployment, error)
	UpdateDeployment(ctx context.Context, deployment *status.Deployment) error
	ListDeployments(ctx context.Context, opts ListOptions) ([]status.Deployment, error)

	// Task operations
	UpsertTask(ctx context.Context, task *status.Task) error
	ListTasks(ctx context.Context, deploymentID string) ([]status.Task, error)
	DeleteTasks(ctx context.Context, deploymentID string) error

	// Port assignment operations
	SavePortAssignment(ctx context.Context, assignment ports.Assignment) error
	ListPortAssignments(ctx context.Context) ([]ports.Assignment, error)

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination and filtering options.
type ListOptions struct {
	Limit  int
	Offset int
	Status status.DeploymentStatus // empty matches every status
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
