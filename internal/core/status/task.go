package status

import (
	"time"
)

// =============================================================================
// Task Events
// =============================================================================

// EventStatusUpdate is the event type of a task status change.
const EventStatusUpdate = "status_update_event"

// TaskEvent is a task status change reported by the backend.
type TaskEvent struct {
	EventType  string    `json:"eventType"`
	Timestamp  time.Time `json:"timestamp"`
	SlaveID    string    `json:"slaveId"`
	TaskID     string    `json:"taskId"`
	TaskStatus string    `json:"taskStatus"`
	AppID      string    `json:"appId"`
	Host       string    `json:"host"`
	Ports      []int     `json:"ports,omitempty"`
	Version    string    `json:"version,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// =============================================================================
// Task State
// =============================================================================

type TaskState string

const (
	TaskStarting TaskState = "starting"
	TaskRunning  TaskState = "running"
	TaskStopped  TaskState = "stopped"
	TaskFailed   TaskState = "failed"
	TaskUnknown  TaskState = "unknown"
)

var taskStates = map[string]TaskState{
	"TASK_STAGING":  TaskStarting,
	"TASK_STARTING": TaskStarting,
	"TASK_RUNNING":  TaskRunning,
	"TASK_FINISHED": TaskStopped,
	"TASK_KILLED":   TaskStopped,
	"TASK_KILLING":  TaskStopped,
	"TASK_FAILED":   TaskFailed,
	"TASK_LOST":     TaskFailed,
	"TASK_ERROR":    TaskFailed,
	"TASK_DROPPED":  TaskFailed,
	"TASK_GONE":     TaskFailed,
}

// StateOf maps a backend task status onto a TaskState.
func StateOf(taskStatus string) TaskState {
	if s, ok := taskStates[taskStatus]; ok {
		return s
	}
	return TaskUnknown
}

// Task is the last known state of one task of a deployment.
type Task struct {
	DeploymentID string    `json:"deployment_id" db:"deployment_id"`
	AppID        string    `json:"app_id" db:"app_id"`
	TaskID       string    `json:"task_id" db:"task_id"`
	State        TaskState `json:"state" db:"state"`
	Host         string    `json:"host,omitempty" db:"host"`
	SlaveID      string    `json:"slave_id,omitempty" db:"slave_id"`
	Message      string    `json:"message,omitempty" db:"message"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// TaskFromEvent builds the task record of an event.
func TaskFromEvent(deploymentID string, ev TaskEvent) Task {
	updated := ev.Timestamp.UTC()
	if ev.Timestamp.IsZero() {
		updated = time.Now().UTC()
	}
	return Task{
		DeploymentID: deploymentID,
		AppID:        ev.AppID,
		TaskID:       ev.TaskID,
		State:        StateOf(ev.TaskStatus),
		Host:         ev.Host,
		SlaveID:      ev.SlaveID,
		Message:      ev.Message,
		UpdatedAt:    updated,
	}
}

// =============================================================================
// Aggregation
// =============================================================================

// Aggregate folds the tasks of a deployment into a status. Only the most
// recent task of each app counts, so a replaced task does not keep the
// deployment failed.
//
//   - failed if the latest task of any app failed
//   - deployed if every app in appIDs has a running latest task
//   - deploying otherwise
func Aggregate(appIDs []string, tasks []Task) DeploymentStatus {
	latest := make(map[string]Task, len(appIDs))
	for _, t := range tasks {
		prev, ok := latest[t.AppID]
		if !ok || t.UpdatedAt.After(prev.UpdatedAt) {
			latest[t.AppID] = t
		}
	}

	for _, t := range latest {
		if t.State == TaskFailed {
			return StatusFailed
		}
	}

	if len(appIDs) == 0 {
		return StatusDeploying
	}
	for _, id := range appIDs {
		t, ok := latest[id]
		if !ok || t.State != TaskRunning {
			return StatusDeploying
		}
	}
	return StatusDeployed
}
