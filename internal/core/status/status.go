// Package status tracks the runtime state of deployed groups.
//
// Task events reported by the backend are reduced to a TaskState per task,
// and the tasks of a deployment are folded into a single DeploymentStatus.
// Everything here is pure; the shell feeds events in and persists results.
package status

import (
	"errors"
	"strings"
	"time"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidAppID      = errors.New("app id is not inside a group")
)

// =============================================================================
// Deployment Status
// =============================================================================

type DeploymentStatus string

const (
	StatusPending     DeploymentStatus = "pending"
	StatusDeploying   DeploymentStatus = "deploying"
	StatusDeployed    DeploymentStatus = "deployed"
	StatusFailed      DeploymentStatus = "failed"
	StatusUndeploying DeploymentStatus = "undeploying"
	StatusUndeployed  DeploymentStatus = "undeployed"
)

// validTransitions defines the allowed state transitions.
var validTransitions = map[DeploymentStatus][]DeploymentStatus{
	StatusPending:     {StatusDeploying, StatusFailed},
	StatusDeploying:   {StatusDeployed, StatusFailed, StatusUndeploying},
	StatusDeployed:    {StatusDeploying, StatusFailed, StatusUndeploying},
	StatusFailed:      {StatusDeploying, StatusDeployed, StatusUndeploying},
	StatusUndeploying: {StatusUndeployed, StatusFailed},
	StatusUndeployed:  {}, // Terminal state
}

// ValidateTransition checks if a status transition is valid.
func ValidateTransition(from, to DeploymentStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return ErrInvalidTransition
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return ErrInvalidTransition
}

// Active reports whether the deployment still owns a group on the backend.
func (s DeploymentStatus) Active() bool {
	return s == StatusDeploying || s == StatusDeployed || s == StatusFailed
}

// =============================================================================
// Deployment
// =============================================================================

// Deployment is the record of one compiled topology submitted to the backend.
type Deployment struct {
	ID           string           `json:"id" db:"id"`
	GroupID      string           `json:"group_id" db:"group_id"`
	Status       DeploymentStatus `json:"status" db:"status"`
	Manifest     []byte           `json:"-" db:"manifest"`
	ErrorMessage string           `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at" db:"updated_at"`
}

// NewDeployment creates a pending deployment.
func NewDeployment(id, groupID string) *Deployment {
	now := time.Now().UTC()
	return &Deployment{
		ID:        id,
		GroupID:   groupID,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition attempts to move the deployment to a new status.
func (d *Deployment) Transition(to DeploymentStatus) error {
	if err := ValidateTransition(d.Status, to); err != nil {
		return err
	}

	d.Status = to
	d.UpdatedAt = time.Now().UTC()

	// Clear error on retry
	if to == StatusDeploying || to == StatusDeployed {
		d.ErrorMessage = ""
	}

	return nil
}

// TransitionToFailed moves the deployment to failed with an error message.
func (d *Deployment) TransitionToFailed(errorMessage string) error {
	if err := d.Transition(StatusFailed); err != nil {
		return err
	}
	d.ErrorMessage = errorMessage
	return nil
}

// =============================================================================
// App IDs
// =============================================================================

// SplitAppID splits a backend app id such as "/shop-prod/webapp" into its
// group id and app name.
func SplitAppID(appID string) (groupID, app string, err error) {
	trimmed := strings.Trim(appID, "/")
	i := strings.LastIndex(trimmed, "/")
	if i <= 0 || i == len(trimmed)-1 {
		return "", "", ErrInvalidAppID
	}
	return trimmed[:i], trimmed[i+1:], nil
}

// GroupOf returns the group id of a backend app id, or "" for apps that are
// not inside a group.
func GroupOf(appID string) string {
	g, _, err := SplitAppID(appID)
	if err != nil {
		return ""
	}
	return g
}
