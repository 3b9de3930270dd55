// Package deployer drives deployments: it compiles topologies, submits the
// resulting groups to the backend, and folds task events into deployment
// status.
package deployer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/artpar/marathoner/internal/core/compiler"
	manifest "github.com/artpar/marathoner/internal/core/marathon"
	"github.com/artpar/marathoner/internal/core/ports"
	"github.com/artpar/marathoner/internal/core/status"
	"github.com/artpar/marathoner/internal/core/topology"
	"github.com/artpar/marathoner/internal/shell/marathon"
	"github.com/artpar/marathoner/internal/shell/metrics"
	"github.com/artpar/marathoner/internal/shell/store"
)

// Backend is the part of the backend API the deployer needs.
type Backend interface {
	PutGroup(ctx context.Context, group *manifest.Group, force bool) (*marathon.DeploymentResult, error)
	GetGroup(ctx context.Context, id string) (*manifest.Group, error)
	DeleteGroup(ctx context.Context, id string, force bool) (*marathon.DeploymentResult, error)
}

// Config configures the deployer.
type Config struct {
	// Force overrides backend deployments that are in progress.
	Force bool

	// PersistPorts records every fresh port allocation in the store and
	// restores the allocator from it on RestorePorts.
	PersistPorts bool
}

// Service orchestrates deployments.
type Service struct {
	compiler *compiler.Compiler
	store    store.Store
	backend  Backend
	metrics  *metrics.Metrics
	config   Config
	logger   *slog.Logger

	assigned atomic.Int64

	// fresh allocations waiting to be written to the store
	pendingMu sync.Mutex
	pending   []ports.Assignment
}

// NewService creates a deployer. A nil metrics or logger gets a default.
func NewService(c *compiler.Compiler, s store.Store, b Backend, m *metrics.Metrics, cfg Config, logger *slog.Logger) *Service {
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = slog.Default()
	}

	svc := &Service{
		compiler: c,
		store:    s,
		backend:  b,
		metrics:  m,
		config:   cfg,
		logger:   logger.With("component", "deployer"),
	}
	svc.assigned.Store(int64(c.Allocator().Len()))
	c.Allocator().SetObserver(svc.observeAllocation)
	return svc
}

// observeAllocation runs under the allocator lock.
func (s *Service) observeAllocation(a ports.Assignment) {
	s.metrics.PortAllocated(int(s.assigned.Add(1)))
	if !s.config.PersistPorts {
		return
	}
	s.pendingMu.Lock()
	s.pending = append(s.pending, a)
	s.pendingMu.Unlock()
}

// RestorePorts seeds the allocator with the recorded assignments. It does
// nothing unless PersistPorts is set.
func (s *Service) RestorePorts(ctx context.Context) error {
	if !s.config.PersistPorts {
		return nil
	}

	assignments, err := s.store.ListPortAssignments(ctx)
	if err != nil {
		return fmt.Errorf("load port assignments: %w", err)
	}
	alloc := s.compiler.Allocator()
	if err := alloc.Restore(assignments); err != nil {
		return fmt.Errorf("restore port assignments: %w", err)
	}

	n := alloc.Len()
	s.assigned.Store(int64(n))
	s.metrics.PortsRestored(n)
	s.logger.Info("port assignments restored", "count", n)
	return nil
}

func (s *Service) flushPorts(ctx context.Context) error {
	s.pendingMu.Lock()
	pending := s.pending
	s.pending = nil
	s.pendingMu.Unlock()

	for i, a := range pending {
		if err := s.store.SavePortAssignment(ctx, a); err != nil {
			// Unsaved assignments go back to the queue for the next flush.
			s.pendingMu.Lock()
			s.pending = append(append([]ports.Assignment(nil), pending[i:]...), s.pending...)
			s.pendingMu.Unlock()
			return fmt.Errorf("record port %d for %s: %w", a.Port, a.Key, err)
		}
	}
	return nil
}

// =============================================================================
// Compilation
// =============================================================================

// Compile compiles a topology without submitting it. Under the skip error
// policy the partial group is returned together with the *GroupError.
// Ports are allocated exactly as for Deploy.
func (s *Service) Compile(ctx context.Context, deploymentID string, topo *topology.Topology) (*manifest.Group, error) {
	start := time.Now()
	group, err := s.compiler.CompileGroup(deploymentID, topo)
	if err == nil {
		_, err = manifest.StartupOrder(group.Apps)
		if err != nil {
			group = nil
		}
	}
	s.metrics.ObserveCompile(time.Since(start), errorReason(err))

	if ferr := s.flushPorts(ctx); ferr != nil {
		s.logger.Error("failed to record port assignments", "error", ferr)
	}
	return group, err
}

func errorReason(err error) string {
	if err == nil {
		return ""
	}
	var ce *compiler.CompileError
	if errors.As(err, &ce) {
		return ce.Code()
	}
	if errors.Is(err, manifest.ErrDependencyCycle) {
		return "dependency_cycle"
	}
	return "internal"
}

// =============================================================================
// Deploy / Undeploy
// =============================================================================

// Deploy compiles the topology and submits the group to the backend. A live
// deployment of the same group is redeployed in place; otherwise a new
// deployment record is created. Nothing is recorded when compilation fails.
// A backend failure marks the deployment failed and returns both the
// deployment and the error.
func (s *Service) Deploy(ctx context.Context, deploymentID string, topo *topology.Topology) (*status.Deployment, error) {
	group, err := s.Compile(ctx, deploymentID, topo)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(group)
	if err != nil {
		return nil, fmt.Errorf("encode group: %w", err)
	}

	var d *status.Deployment
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		existing, err := tx.GetDeploymentByGroup(ctx, group.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			d = status.NewDeployment(uuid.NewString(), group.ID)
			d.Manifest = body
			if err := d.Transition(status.StatusDeploying); err != nil {
				return err
			}
			return tx.CreateDeployment(ctx, d)
		case err != nil:
			return err
		}

		d = existing
		if d.Status != status.StatusDeploying {
			if err := d.Transition(status.StatusDeploying); err != nil {
				return fmt.Errorf("%w: deployment %s is %s", ErrConflict, d.ID, d.Status)
			}
		}
		d.Manifest = body
		d.UpdatedAt = time.Now().UTC()
		return tx.UpdateDeployment(ctx, d)
	})
	if err != nil {
		return nil, err
	}

	result, err := s.backend.PutGroup(ctx, group, s.config.Force)
	s.metrics.BackendRequest("put_group", err)
	if err != nil {
		s.logger.Error("group submission failed", "deployment_id", d.ID, "group", group.ID, "error", err)
		s.markFailed(ctx, d, err.Error())
		return d, fmt.Errorf("submit group %s: %w", group.ID, err)
	}

	s.logger.Info("group submitted",
		"deployment_id", d.ID,
		"group", group.ID,
		"apps", len(group.Apps),
		"version", result.Version,
	)
	return d, nil
}

// Undeploy removes the deployment's group from the backend. A group the
// backend no longer knows counts as removed.
func (s *Service) Undeploy(ctx context.Context, id string) (*status.Deployment, error) {
	d, err := s.store.GetDeployment(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status == status.StatusUndeployed {
		return d, nil
	}
	if err := d.Transition(status.StatusUndeploying); err != nil {
		return nil, fmt.Errorf("%w: deployment %s is %s", ErrConflict, d.ID, d.Status)
	}
	if err := s.store.UpdateDeployment(ctx, d); err != nil {
		return nil, err
	}

	_, err = s.backend.DeleteGroup(ctx, d.GroupID, s.config.Force)
	s.metrics.BackendRequest("delete_group", err)
	if err != nil && !errors.Is(err, marathon.ErrNotFound) {
		s.logger.Error("group removal failed", "deployment_id", d.ID, "group", d.GroupID, "error", err)
		s.markFailed(ctx, d, err.Error())
		return d, fmt.Errorf("remove group %s: %w", d.GroupID, err)
	}

	if err := d.Transition(status.StatusUndeployed); err != nil {
		return nil, err
	}
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.DeleteTasks(ctx, d.ID); err != nil {
			return err
		}
		return tx.UpdateDeployment(ctx, d)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("group removed", "deployment_id", d.ID, "group", d.GroupID)
	return d, nil
}

func (s *Service) markFailed(ctx context.Context, d *status.Deployment, message string) {
	if err := d.TransitionToFailed(message); err != nil {
		s.logger.Error("cannot mark deployment failed", "deployment_id", d.ID, "status", d.Status, "error", err)
		return
	}
	if err := s.store.UpdateDeployment(ctx, d); err != nil {
		s.logger.Error("failed to update deployment", "deployment_id", d.ID, "error", err)
	}
}

// CheckGroup verifies that a live deployment's group still exists on the
// backend and marks the deployment failed when it does not.
func (s *Service) CheckGroup(ctx context.Context, id string) error {
	d, err := s.store.GetDeployment(ctx, id)
	if err != nil {
		return err
	}
	if d.Status != status.StatusDeploying && d.Status != status.StatusDeployed {
		return nil
	}

	_, err = s.backend.GetGroup(ctx, d.GroupID)
	s.metrics.BackendRequest("get_group", err)
	if errors.Is(err, marathon.ErrNotFound) {
		s.logger.Warn("group missing on backend", "deployment_id", d.ID, "group", d.GroupID)
		s.markFailed(ctx, d, fmt.Sprintf("group %s is missing on the backend", d.GroupID))
		return nil
	}
	return err
}

// =============================================================================
// Queries
// =============================================================================

// Get returns a deployment.
func (s *Service) Get(ctx context.Context, id string) (*status.Deployment, error) {
	return s.store.GetDeployment(ctx, id)
}

// List returns deployments, newest first.
func (s *Service) List(ctx context.Context, opts store.ListOptions) ([]status.Deployment, error) {
	return s.store.ListDeployments(ctx, opts)
}

// Tasks returns the known tasks of a deployment.
func (s *Service) Tasks(ctx context.Context, id string) ([]status.Task, error) {
	if _, err := s.store.GetDeployment(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListTasks(ctx, id)
}

// Manifest returns the last submitted group of a deployment.
func (s *Service) Manifest(ctx context.Context, id string) (*manifest.Group, error) {
	d, err := s.store.GetDeployment(ctx, id)
	if err != nil {
		return nil, err
	}
	return decodeManifest(d)
}

// Ports returns every port assignment, ordered by port.
func (s *Service) Ports() []ports.Assignment {
	return s.compiler.Allocator().Snapshot()
}

func decodeManifest(d *status.Deployment) (*manifest.Group, error) {
	var g manifest.Group
	if err := json.Unmarshal(d.Manifest, &g); err != nil {
		return nil, fmt.Errorf("%w: deployment %s: %v", ErrInvalidManifest, d.ID, err)
	}
	return &g, nil
}

// =============================================================================
// Task Events
// =============================================================================

// HandleTaskEvent records a task status update and recomputes the status of
// the deployment owning the task. Events for unknown groups or for
// deployments that are being removed are ignored.
func (s *Service) HandleTaskEvent(ctx context.Context, ev status.TaskEvent) error {
	if ev.EventType != "" && ev.EventType != status.EventStatusUpdate {
		return nil
	}
	s.metrics.TaskEvent(string(status.StateOf(ev.TaskStatus)))

	groupID := status.GroupOf(ev.AppID)
	if groupID == "" {
		return nil
	}

	d, err := s.store.GetDeploymentByGroup(ctx, groupID)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Debug("task event for unknown group", "app_id", ev.AppID)
		return nil
	}
	if err != nil {
		return err
	}
	if !d.Status.Active() {
		return nil
	}

	task := status.TaskFromEvent(d.ID, ev)
	if err := s.store.UpsertTask(ctx, &task); err != nil {
		return err
	}

	group, err := decodeManifest(d)
	if err != nil {
		return err
	}
	appIDs := make([]string, 0, len(group.Apps))
	members := make(map[string]bool, len(group.Apps))
	for _, a := range group.Apps {
		id := "/" + group.ID + "/" + a.ID
		appIDs = append(appIDs, id)
		members[id] = true
	}

	all, err := s.store.ListTasks(ctx, d.ID)
	if err != nil {
		return err
	}
	tasks := all[:0]
	for _, t := range all {
		if members[t.AppID] {
			tasks = append(tasks, t)
		}
	}

	next := status.Aggregate(appIDs, tasks)
	if next == d.Status {
		return nil
	}
	if err := status.ValidateTransition(d.Status, next); err != nil {
		s.logger.Debug("ignoring status change", "deployment_id", d.ID, "from", d.Status, "to", next)
		return nil
	}

	if next == status.StatusFailed {
		err = d.TransitionToFailed(failureMessage(tasks))
	} else {
		err = d.Transition(next)
	}
	if err != nil {
		return err
	}
	if err := s.store.UpdateDeployment(ctx, d); err != nil {
		return err
	}

	s.logger.Info("deployment status changed", "deployment_id", d.ID, "group", d.GroupID, "status", d.Status)
	return nil
}

func failureMessage(tasks []status.Task) string {
	var failed *status.Task
	for i := range tasks {
		t := &tasks[i]
		if t.State == status.TaskFailed && (failed == nil || t.UpdatedAt.After(failed.UpdatedAt)) {
			failed = t
		}
	}
	if failed == nil {
		return "task failed"
	}
	if failed.Message != "" {
		return fmt.Sprintf("task %s of %s failed: %s", failed.TaskID, failed.AppID, failed.Message)
	}
	return fmt.Sprintf("task %s of %s failed", failed.TaskID, failed.AppID)
}
