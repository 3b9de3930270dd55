package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/marathoner/internal/core/status"
	"github.com/artpar/marathoner/internal/shell/store"
)

// GroupCheckerConfig configures the group checker worker.
type GroupCheckerConfig struct {
	// Interval is the time between check cycles.
	// Default: 60 seconds.
	Interval time.Duration

	// GroupTimeout is the timeout for checking a single group.
	// Default: 10 seconds.
	GroupTimeout time.Duration

	// MaxConcurrent is the maximum number of groups checked concurrently.
	// Default: 5.
	MaxConcurrent int
}

// DefaultGroupCheckerConfig returns the default configuration.
func DefaultGroupCheckerConfig() GroupCheckerConfig {
	return GroupCheckerConfig{
		Interval:      60 * time.Second,
		GroupTimeout:  10 * time.Second,
		MaxConcurrent: 5,
	}
}

// DeploymentChecker lists deployments and checks their backend group.
type DeploymentChecker interface {
	List(ctx context.Context, opts store.ListOptions) ([]status.Deployment, error)
	CheckGroup(ctx context.Context, id string) error
}

// GroupChecker periodically verifies that the groups of live deployments
// still exist on the backend. Groups removed behind our back would
// otherwise never produce a task event.
type GroupChecker struct {
	deployments DeploymentChecker
	config      GroupCheckerConfig
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewGroupChecker creates a new group checker worker.
func NewGroupChecker(d DeploymentChecker, config GroupCheckerConfig, logger *slog.Logger) *GroupChecker {
	if config.Interval == 0 {
		config.Interval = 60 * time.Second
	}
	if config.GroupTimeout == 0 {
		config.GroupTimeout = 10 * time.Second
	}
	if config.MaxConcurrent == 0 {
		config.MaxConcurrent = 5
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &GroupChecker{
		deployments: d,
		config:      config,
		logger:      logger.With("component", "group_checker"),
	}
}

// Start runs a check cycle now and then once per interval.
func (g *GroupChecker) Start() {
	g.ctx, g.cancel = context.WithCancel(context.Background())

	g.wg.Add(1)
	go g.run()

	g.logger.Info("group checker started",
		"interval", g.config.Interval,
		"max_concurrent", g.config.MaxConcurrent,
	)
}

// Stop waits for the running cycle to finish.
func (g *GroupChecker) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.wg.Wait()
	g.logger.Info("group checker stopped")
}

func (g *GroupChecker) run() {
	defer g.wg.Done()

	g.runCycle()

	ticker := time.NewTicker(g.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.ctx.Done():
			return
		case <-ticker.C:
			g.runCycle()
		}
	}
}

func (g *GroupChecker) runCycle() {
	ctx, cancel := context.WithTimeout(g.ctx, g.config.Interval)
	defer cancel()

	var live []status.Deployment
	for _, st := range []status.DeploymentStatus{status.StatusDeploying, status.StatusDeployed} {
		opts := store.ListOptions{Limit: 1000, Status: st}
		deployments, err := g.deployments.List(ctx, opts)
		if err != nil {
			g.logger.Error("failed to list deployments", "status", st, "error", err)
			return
		}
		live = append(live, deployments...)
	}

	if len(live) == 0 {
		g.logger.Debug("no live deployments to check")
		return
	}

	sem := make(chan struct{}, g.config.MaxConcurrent)
	var wg sync.WaitGroup

	for i := range live {
		d := live[i]

		wg.Add(1)
		go func() {
			defer wg.Done()

			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
				defer func() { <-sem }()
			}

			checkCtx, cancel := context.WithTimeout(ctx, g.config.GroupTimeout)
			defer cancel()

			if err := g.deployments.CheckGroup(checkCtx, d.ID); err != nil {
				g.logger.Warn("group check failed", "deployment_id", d.ID, "group", d.GroupID, "error", err)
			}
		}()
	}

	wg.Wait()
	g.logger.Debug("completed group check cycle", "deployment_count", len(live))
}
