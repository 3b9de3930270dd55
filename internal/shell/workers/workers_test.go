package workers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/marathoner/internal/core/status"
	"github.com/artpar/marathoner/internal/shell/marathon"
	"github.com/artpar/marathoner/internal/shell/store"
)

// =============================================================================
// Mocks
// =============================================================================

type mockSource struct {
	events []status.TaskEvent
	err    error
}

func (m *mockSource) Events(ctx context.Context, handler marathon.EventHandler) error {
	for _, ev := range m.events {
		handler(ev)
	}
	if m.err != nil {
		return m.err
	}
	<-ctx.Done()
	return nil
}

type mockHandler struct {
	mu     sync.Mutex
	events []status.TaskEvent
	err    error
}

func (m *mockHandler) HandleTaskEvent(ctx context.Context, ev status.TaskEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return m.err
}

func (m *mockHandler) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

type mockDeployments struct {
	mu       sync.Mutex
	byStatus map[status.DeploymentStatus][]status.Deployment
	listErr  error
	checkErr error
	checked  []string
	listed   []status.DeploymentStatus
}

func (m *mockDeployments) List(ctx context.Context, opts store.ListOptions) ([]status.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listed = append(m.listed, opts.Status)
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.byStatus[opts.Status], nil
}

func (m *mockDeployments) CheckGroup(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checked = append(m.checked, id)
	return m.checkErr
}

// =============================================================================
// StatusWatcher Tests
// =============================================================================

func TestNewStatusWatcher_DefaultConfig(t *testing.T) {
	w := NewStatusWatcher(&mockSource{}, &mockHandler{}, StatusWatcherConfig{}, nil)
	assert.Equal(t, DefaultStatusWatcherConfig(), w.config)
}

func TestStatusWatcher_DeliversEvents(t *testing.T) {
	source := &mockSource{events: []status.TaskEvent{
		{EventType: status.EventStatusUpdate, AppID: "/shop/web", TaskID: "t1", TaskStatus: "TASK_RUNNING"},
		{EventType: status.EventStatusUpdate, AppID: "/shop/db", TaskID: "t2", TaskStatus: "TASK_RUNNING"},
	}}
	handler := &mockHandler{err: errors.New("ignored")}

	w := NewStatusWatcher(source, handler, StatusWatcherConfig{}, slog.Default())
	w.Start()
	require.Eventually(t, func() bool { return handler.count() == 2 }, time.Second, 10*time.Millisecond)
	w.Stop()

	assert.Equal(t, "t1", handler.events[0].TaskID)
	assert.Equal(t, "t2", handler.events[1].TaskID)
}

func TestStatusWatcher_StreamErrorEndsRun(t *testing.T) {
	w := NewStatusWatcher(&mockSource{err: marathon.ErrUnauthorized}, &mockHandler{}, StatusWatcherConfig{}, nil)
	w.Start()
	w.Stop()
}

func TestStatusWatcher_StopWithoutStart(t *testing.T) {
	w := NewStatusWatcher(&mockSource{}, &mockHandler{}, StatusWatcherConfig{}, nil)
	w.Stop()
}

// =============================================================================
// GroupChecker Tests
// =============================================================================

func TestDefaultGroupCheckerConfig(t *testing.T) {
	config := DefaultGroupCheckerConfig()

	assert.Equal(t, 60*time.Second, config.Interval)
	assert.Equal(t, 10*time.Second, config.GroupTimeout)
	assert.Equal(t, 5, config.MaxConcurrent)
}

func TestNewGroupChecker_CustomConfig(t *testing.T) {
	config := GroupCheckerConfig{Interval: time.Second, GroupTimeout: time.Second, MaxConcurrent: 2}
	g := NewGroupChecker(&mockDeployments{}, config, slog.Default())
	assert.Equal(t, config, g.config)
}

func TestGroupChecker_RunCycle_ChecksLiveDeployments(t *testing.T) {
	m := &mockDeployments{byStatus: map[status.DeploymentStatus][]status.Deployment{
		status.StatusDeploying: {{ID: "d1", GroupID: "a"}},
		status.StatusDeployed:  {{ID: "d2", GroupID: "b"}, {ID: "d3", GroupID: "c"}},
	}, checkErr: errors.New("logged")}

	g := NewGroupChecker(m, GroupCheckerConfig{Interval: time.Second}, slog.Default())
	g.ctx, g.cancel = context.WithCancel(context.Background())
	defer g.cancel()

	g.runCycle()

	assert.Equal(t, []status.DeploymentStatus{status.StatusDeploying, status.StatusDeployed}, m.listed)
	assert.ElementsMatch(t, []string{"d1", "d2", "d3"}, m.checked)
}

func TestGroupChecker_RunCycle_ListError(t *testing.T) {
	m := &mockDeployments{listErr: errors.New("db down")}

	g := NewGroupChecker(m, GroupCheckerConfig{Interval: time.Second}, slog.Default())
	g.ctx, g.cancel = context.WithCancel(context.Background())
	defer g.cancel()

	g.runCycle()

	assert.Len(t, m.listed, 1)
	assert.Empty(t, m.checked)
}

func TestGroupChecker_StartStop(t *testing.T) {
	m := &mockDeployments{}
	g := NewGroupChecker(m, GroupCheckerConfig{Interval: 50 * time.Millisecond}, slog.Default())

	g.Start()
	time.Sleep(20 * time.Millisecond)
	g.Stop()

	g.Start()
	g.Stop()
}
