package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// ValidateTransition Tests
// =============================================================================

func TestValidateTransition_AllValid(t *testing.T) {
	validTransitions := []struct {
		from DeploymentStatus
		to   DeploymentStatus
	}{
		{StatusPending, StatusDeploying},
		{StatusPending, StatusFailed},
		{StatusDeploying, StatusDeployed},
		{StatusDeploying, StatusFailed},
		{StatusDeploying, StatusUndeploying},
		{StatusDeployed, StatusDeploying},
		{StatusDeployed, StatusFailed},
		{StatusDeployed, StatusUndeploying},
		{StatusFailed, StatusDeploying},
		{StatusFailed, StatusDeployed},
		{StatusFailed, StatusUndeploying},
		{StatusUndeploying, StatusUndeployed},
		{StatusUndeploying, StatusFailed},
	}

	for _, tc := range validTransitions {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			assert.NoError(t, ValidateTransition(tc.from, tc.to))
		})
	}
}

func TestValidateTransition_AllInvalid(t *testing.T) {
	invalidTransitions := []struct {
		from DeploymentStatus
		to   DeploymentStatus
	}{
		{StatusPending, StatusDeployed},
		{StatusPending, StatusUndeployed},
		{StatusDeployed, StatusPending},
		{StatusDeployed, StatusUndeployed},
		{StatusUndeploying, StatusDeployed},
		{StatusUndeployed, StatusDeploying},
		{StatusUndeployed, StatusFailed},
		{DeploymentStatus("bogus"), StatusDeploying},
	}

	for _, tc := range invalidTransitions {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			assert.ErrorIs(t, ValidateTransition(tc.from, tc.to), ErrInvalidTransition)
		})
	}
}

func TestDeploymentStatus_Active(t *testing.T) {
	assert.True(t, StatusDeploying.Active())
	assert.True(t, StatusDeployed.Active())
	assert.True(t, StatusFailed.Active())
	assert.False(t, StatusPending.Active())
	assert.False(t, StatusUndeploying.Active())
	assert.False(t, StatusUndeployed.Active())
}

// =============================================================================
// Deployment Tests
// =============================================================================

func TestNewDeployment(t *testing.T) {
	d := NewDeployment("abc", "shop")
	assert.Equal(t, StatusPending, d.Status)
	assert.Equal(t, "shop", d.GroupID)
	assert.False(t, d.CreatedAt.IsZero())
	assert.Equal(t, d.CreatedAt, d.UpdatedAt)
}

func TestDeployment_Transition(t *testing.T) {
	d := NewDeployment("abc", "shop")
	require.NoError(t, d.Transition(StatusDeploying))
	require.NoError(t, d.Transition(StatusDeployed))
	assert.Equal(t, StatusDeployed, d.Status)
}

func TestDeployment_Transition_Invalid(t *testing.T) {
	d := NewDeployment("abc", "shop")
	err := d.Transition(StatusUndeployed)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusPending, d.Status)
}

func TestDeployment_TransitionToFailed(t *testing.T) {
	d := NewDeployment("abc", "shop")
	require.NoError(t, d.Transition(StatusDeploying))
	require.NoError(t, d.TransitionToFailed("backend said no"))

	assert.Equal(t, StatusFailed, d.Status)
	assert.Equal(t, "backend said no", d.ErrorMessage)

	// Retrying clears the error.
	require.NoError(t, d.Transition(StatusDeploying))
	assert.Empty(t, d.ErrorMessage)
}

func TestDeployment_TransitionToFailed_FromUndeployed(t *testing.T) {
	d := &Deployment{Status: StatusUndeployed}
	assert.ErrorIs(t, d.TransitionToFailed("x"), ErrInvalidTransition)
	assert.Empty(t, d.ErrorMessage)
}

// =============================================================================
// App ID Tests
// =============================================================================

func TestSplitAppID(t *testing.T) {
	tests := []struct {
		in    string
		group string
		app   string
		err   bool
	}{
		{"/shop-prod/webapp", "shop-prod", "webapp", false},
		{"shop-prod/webapp", "shop-prod", "webapp", false},
		{"/org/shop/webapp", "org/shop", "webapp", false},
		{"/webapp", "", "", true},
		{"/shop/", "", "", true},
		{"", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			g, a, err := SplitAppID(tt.in)
			if tt.err {
				assert.ErrorIs(t, err, ErrInvalidAppID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.group, g)
			assert.Equal(t, tt.app, a)
		})
	}
}

func TestGroupOf(t *testing.T) {
	assert.Equal(t, "shop", GroupOf("/shop/db"))
	assert.Equal(t, "", GroupOf("/db"))
}

// =============================================================================
// Task Tests
// =============================================================================

func TestStateOf(t *testing.T) {
	tests := map[string]TaskState{
		"TASK_STAGING":     TaskStarting,
		"TASK_STARTING":    TaskStarting,
		"TASK_RUNNING":     TaskRunning,
		"TASK_FINISHED":    TaskStopped,
		"TASK_KILLED":      TaskStopped,
		"TASK_KILLING":     TaskStopped,
		"TASK_FAILED":      TaskFailed,
		"TASK_LOST":        TaskFailed,
		"TASK_ERROR":       TaskFailed,
		"TASK_DROPPED":     TaskFailed,
		"TASK_GONE":        TaskFailed,
		"TASK_UNREACHABLE": TaskUnknown,
		"task_running":     TaskUnknown,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, StateOf(in))
		})
	}
}

func TestTaskFromEvent(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	task := TaskFromEvent("dep-1", TaskEvent{
		EventType:  EventStatusUpdate,
		Timestamp:  ts,
		SlaveID:    "agent-1",
		TaskID:     "shop_web.1",
		TaskStatus: "TASK_RUNNING",
		AppID:      "/shop/web",
		Host:       "10.0.0.5",
	})

	assert.Equal(t, Task{
		DeploymentID: "dep-1",
		AppID:        "/shop/web",
		TaskID:       "shop_web.1",
		State:        TaskRunning,
		Host:         "10.0.0.5",
		SlaveID:      "agent-1",
		UpdatedAt:    ts,
	}, task)
}

func TestTaskFromEvent_NoTimestamp(t *testing.T) {
	task := TaskFromEvent("dep-1", TaskEvent{TaskStatus: "TASK_LOST"})
	assert.Equal(t, TaskFailed, task.State)
	assert.False(t, task.UpdatedAt.IsZero())
}

// =============================================================================
// Aggregate Tests
// =============================================================================

func task(app string, state TaskState, minute int) Task {
	return Task{
		AppID:     app,
		TaskID:    app + "." + string(state),
		State:     state,
		UpdatedAt: time.Date(2024, 1, 1, 0, minute, 0, 0, time.UTC),
	}
}

func TestAggregate(t *testing.T) {
	apps := []string{"/shop/web", "/shop/db"}

	tests := []struct {
		name  string
		tasks []Task
		want  DeploymentStatus
	}{
		{"no tasks", nil, StatusDeploying},
		{"one app running", []Task{task("/shop/web", TaskRunning, 1)}, StatusDeploying},
		{
			"all running",
			[]Task{task("/shop/web", TaskRunning, 1), task("/shop/db", TaskRunning, 2)},
			StatusDeployed,
		},
		{
			"one failed",
			[]Task{task("/shop/web", TaskRunning, 1), task("/shop/db", TaskFailed, 2)},
			StatusFailed,
		},
		{
			"failed task replaced",
			[]Task{
				task("/shop/web", TaskRunning, 1),
				task("/shop/db", TaskFailed, 2),
				task("/shop/db", TaskRunning, 3),
			},
			StatusDeployed,
		},
		{
			"starting",
			[]Task{task("/shop/web", TaskRunning, 1), task("/shop/db", TaskStarting, 2)},
			StatusDeploying,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Aggregate(apps, tt.tasks))
		})
	}
}

func TestAggregate_NoApps(t *testing.T) {
	assert.Equal(t, StatusDeploying, Aggregate(nil, nil))
}
