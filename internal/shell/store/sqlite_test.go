package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/marathoner/internal/core/ports"
	"github.com/artpar/marathoner/internal/core/status"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func createTestDeployment(t *testing.T, store Store, id, groupID string) *status.Deployment {
	t.Helper()
	d := status.NewDeployment(id, groupID)
	d.Manifest = []byte(`{"id":"` + groupID + `","apps":[]}`)
	require.NoError(t, store.CreateDeployment(context.Background(), d))
	return d
}

// =============================================================================
// Deployment Tests
// =============================================================================

func TestCreateDeployment_Success(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	d := createTestDeployment(t, store, "dep-1", "shop")

	got, err := store.GetDeployment(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)
	assert.Equal(t, "shop", got.GroupID)
	assert.Equal(t, status.StatusPending, got.Status)
	assert.JSONEq(t, string(d.Manifest), string(got.Manifest))
	assert.True(t, d.CreatedAt.Equal(got.CreatedAt))
}

func TestCreateDeployment_DuplicateID(t *testing.T) {
	store := setupTestStore(t)
	createTestDeployment(t, store, "dep-1", "shop")

	err := store.CreateDeployment(context.Background(), status.NewDeployment("dep-1", "other"))
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestGetDeployment_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetDeployment(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	var storeErr *StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "GetDeployment", storeErr.Op)
	assert.Equal(t, "missing", storeErr.ID)
}

func TestUpdateDeployment_Success(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	d := createTestDeployment(t, store, "dep-1", "shop")

	require.NoError(t, d.Transition(status.StatusDeploying))
	require.NoError(t, d.TransitionToFailed("backend unreachable"))
	require.NoError(t, store.UpdateDeployment(ctx, d))

	got, err := store.GetDeployment(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, status.StatusFailed, got.Status)
	assert.Equal(t, "backend unreachable", got.ErrorMessage)
}

func TestUpdateDeployment_NotFound(t *testing.T) {
	store := setupTestStore(t)
	err := store.UpdateDeployment(context.Background(), status.NewDeployment("ghost", "g"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetDeploymentByGroup(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	old := createTestDeployment(t, store, "dep-old", "shop")
	old.Status = status.StatusUndeployed
	require.NoError(t, store.UpdateDeployment(ctx, old))

	live := status.NewDeployment("dep-new", "shop")
	live.CreatedAt = old.CreatedAt.Add(time.Minute)
	require.NoError(t, store.CreateDeployment(ctx, live))

	got, err := store.GetDeploymentByGroup(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, "dep-new", got.ID)
}

func TestGetDeploymentByGroup_OnlyUndeployed(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	d := createTestDeployment(t, store, "dep-1", "shop")
	d.Status = status.StatusUndeployed
	require.NoError(t, store.UpdateDeployment(ctx, d))

	_, err := store.GetDeploymentByGroup(ctx, "shop")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListDeployments_NewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		d := status.NewDeployment(id, "g-"+id)
		d.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, store.CreateDeployment(ctx, d))
	}

	list, err := store.ListDeployments(ctx, DefaultListOptions())
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "c", list[0].ID)
	assert.Equal(t, "a", list[2].ID)
}

func TestListDeployments_WithPagination(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		createTestDeployment(t, store, id, "g-"+id)
	}

	page, err := store.ListDeployments(ctx, ListOptions{Limit: 2, Offset: 0})
	require.NoError(t, err)
	assert.Len(t, page, 2)

	page, err = store.ListDeployments(ctx, ListOptions{Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestListDeployments_ByStatus(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	createTestDeployment(t, store, "a", "ga")
	d := createTestDeployment(t, store, "b", "gb")
	require.NoError(t, d.Transition(status.StatusDeploying))
	require.NoError(t, store.UpdateDeployment(ctx, d))

	list, err := store.ListDeployments(ctx, ListOptions{Status: status.StatusDeploying})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].ID)
}

func TestListOptions_Normalize(t *testing.T) {
	tests := []struct {
		in   ListOptions
		want ListOptions
	}{
		{ListOptions{}, ListOptions{Limit: 100}},
		{ListOptions{Limit: 5000, Offset: -1}, ListOptions{Limit: 1000}},
		{ListOptions{Limit: 10, Offset: 20}, ListOptions{Limit: 10, Offset: 20}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.in.Normalize())
	}
}

// =============================================================================
// Task Tests
// =============================================================================

func TestUpsertTask_InsertAndUpdate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestDeployment(t, store, "dep-1", "shop")

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	task := &status.Task{
		DeploymentID: "dep-1",
		AppID:        "/shop/web",
		TaskID:       "shop_web.1",
		State:        status.TaskStarting,
		Host:         "10.0.0.5",
		SlaveID:      "agent-1",
		UpdatedAt:    ts,
	}
	require.NoError(t, store.UpsertTask(ctx, task))

	task.State = status.TaskRunning
	task.UpdatedAt = ts.Add(1500 * time.Millisecond)
	require.NoError(t, store.UpsertTask(ctx, task))

	tasks, err := store.ListTasks(ctx, "dep-1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, status.TaskRunning, tasks[0].State)
	assert.Equal(t, "10.0.0.5", tasks[0].Host)
	assert.True(t, task.UpdatedAt.Equal(tasks[0].UpdatedAt))
}

func TestUpsertTask_UnknownDeployment(t *testing.T) {
	store := setupTestStore(t)
	err := store.UpsertTask(context.Background(), &status.Task{
		DeploymentID: "ghost",
		TaskID:       "t1",
		AppID:        "/g/a",
		State:        status.TaskRunning,
		UpdatedAt:    time.Now(),
	})
	assert.ErrorIs(t, err, ErrForeignKey)
}

func TestDeleteTasks(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestDeployment(t, store, "dep-1", "shop")

	for _, id := range []string{"t1", "t2"} {
		require.NoError(t, store.UpsertTask(ctx, &status.Task{
			DeploymentID: "dep-1", TaskID: id, AppID: "/shop/web",
			State: status.TaskRunning, UpdatedAt: time.Now(),
		}))
	}

	require.NoError(t, store.DeleteTasks(ctx, "dep-1"))
	tasks, err := store.ListTasks(ctx, "dep-1")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

// =============================================================================
// Port Assignment Tests
// =============================================================================

func TestPortAssignments(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SavePortAssignment(ctx, ports.Assignment{Key: ports.NewKey("web", "http"), Port: 10001}))
	require.NoError(t, store.SavePortAssignment(ctx, ports.Assignment{Key: ports.NewKey("db", "sql"), Port: 10000}))

	list, err := store.ListPortAssignments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ports.Assignment{
		{Key: ports.Key{NodeID: "db", Endpoint: "sql"}, Port: 10000},
		{Key: ports.Key{NodeID: "web", Endpoint: "http"}, Port: 10001},
	}, list)
}

func TestSavePortAssignment_NeverOverwrites(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	key := ports.NewKey("web", "http")
	require.NoError(t, store.SavePortAssignment(ctx, ports.Assignment{Key: key, Port: 10000}))
	require.NoError(t, store.SavePortAssignment(ctx, ports.Assignment{Key: key, Port: 10005}))

	list, err := store.ListPortAssignments(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 10000, list[0].Port)
}

func TestSavePortAssignment_PortTaken(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SavePortAssignment(ctx, ports.Assignment{Key: ports.NewKey("web", "http"), Port: 10000}))
	err := store.SavePortAssignment(ctx, ports.Assignment{Key: ports.NewKey("db", "sql"), Port: 10000})
	assert.ErrorIs(t, err, ErrPortTaken)

	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, EntityPort, storeErr.Entity)
	assert.Equal(t, ports.NewKey("db", "sql").String(), storeErr.ID)
}

func TestPortAssignments_RestoreAllocator(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first := ports.New(ports.DefaultBase)
	first.SetObserver(func(a ports.Assignment) {
		require.NoError(t, store.SavePortAssignment(ctx, a))
	})
	webPort := first.Allocate(ports.NewKey("WebApp", "http"))
	dbPort := first.Allocate(ports.NewKey("DbApp", "sql"))

	saved, err := store.ListPortAssignments(ctx)
	require.NoError(t, err)

	second := ports.New(ports.DefaultBase)
	require.NoError(t, second.Restore(saved))

	assert.Equal(t, webPort, second.Allocate(ports.NewKey("webapp", "http")))
	assert.Equal(t, dbPort, second.Allocate(ports.NewKey("dbapp", "sql")))
	assert.Equal(t, dbPort+1, second.Allocate(ports.NewKey("cache", "redis")))
}

// =============================================================================
// Transaction Tests
// =============================================================================

func TestWithTx_CommitSuccess(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx Store) error {
		d := status.NewDeployment("dep-1", "shop")
		if err := tx.CreateDeployment(ctx, d); err != nil {
			return err
		}
		return tx.UpsertTask(ctx, &status.Task{
			DeploymentID: "dep-1", TaskID: "t1", AppID: "/shop/web",
			State: status.TaskStarting, UpdatedAt: time.Now(),
		})
	})
	require.NoError(t, err)

	tasks, err := store.ListTasks(ctx, "dep-1")
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestWithTx_RollbackOnError(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(tx Store) error {
		if err := tx.CreateDeployment(ctx, status.NewDeployment("dep-1", "shop")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.GetDeployment(ctx, "dep-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWithTx_NestedTx(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx Store) error {
		return tx.WithTx(ctx, func(inner Store) error {
			return inner.CreateDeployment(ctx, status.NewDeployment("dep-1", "shop"))
		})
	})
	require.NoError(t, err)

	_, err = store.GetDeployment(ctx, "dep-1")
	assert.NoError(t, err)
}

func TestWithTx_TxStoreClose(t *testing.T) {
	store := setupTestStore(t)
	err := store.WithTx(context.Background(), func(tx Store) error {
		assert.NoError(t, tx.Ping(context.Background()))
		return tx.Close()
	})
	assert.NoError(t, err)
}

// =============================================================================
// Error Tests
// =============================================================================

func TestStoreError_Error(t *testing.T) {
	err := NewStoreError("GetDeployment", EntityDeployment, "abc", "deployment not found", ErrNotFound)
	assert.Equal(t, "GetDeployment deployment abc: deployment not found", err.Error())

	err = NewStoreError("ListTasks", EntityTask, "", "boom", nil)
	assert.Equal(t, "ListTasks task: boom", err.Error())

	err = NewStoreError("WithTx", "", "", "failed", ErrTxFailed)
	assert.Equal(t, "WithTx: failed", err.Error())
}

func TestStoreError_Unwrap(t *testing.T) {
	err := NewStoreError("op", "deployment", "1", "msg", ErrNotFound)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLiteStore_Ping(t *testing.T) {
	store := setupTestStore(t)
	assert.NoError(t, store.Ping(context.Background()))
}
