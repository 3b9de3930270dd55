// Package workers contains background workers for marathoner.
package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/marathoner/internal/core/status"
	"github.com/artpar/marathoner/internal/shell/marathon"
)

// EventSource streams backend task events until ctx is done.
type EventSource interface {
	Events(ctx context.Context, handler marathon.EventHandler) error
}

// TaskEventHandler consumes task events.
type TaskEventHandler interface {
	HandleTaskEvent(ctx context.Context, ev status.TaskEvent) error
}

// StatusWatcherConfig configures the status watcher worker.
type StatusWatcherConfig struct {
	// HandlerTimeout bounds the handling of a single event.
	// Default: 10 seconds.
	HandlerTimeout time.Duration
}

// DefaultStatusWatcherConfig returns the default configuration.
func DefaultStatusWatcherConfig() StatusWatcherConfig {
	return StatusWatcherConfig{
		HandlerTimeout: 10 * time.Second,
	}
}

// StatusWatcher follows the backend event stream and hands every task
// status update to the deployer.
type StatusWatcher struct {
	source  EventSource
	handler TaskEventHandler
	config  StatusWatcherConfig
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStatusWatcher creates a new status watcher worker.
func NewStatusWatcher(source EventSource, handler TaskEventHandler, config StatusWatcherConfig, logger *slog.Logger) *StatusWatcher {
	if config.HandlerTimeout == 0 {
		config.HandlerTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &StatusWatcher{
		source:  source,
		handler: handler,
		config:  config,
		logger:  logger.With("component", "status_watcher"),
	}
}

// Start begins following the event stream in the background.
func (w *StatusWatcher) Start() {
	w.ctx, w.cancel = context.WithCancel(context.Background())

	w.wg.Add(1)
	go w.run()

	w.logger.Info("status watcher started")
}

// Stop ends the stream and waits for the event being handled to finish.
func (w *StatusWatcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.logger.Info("status watcher stopped")
}

func (w *StatusWatcher) run() {
	defer w.wg.Done()

	err := w.source.Events(w.ctx, w.handle)
	if err != nil {
		w.logger.Error("event stream ended", "error", err)
	}
}

func (w *StatusWatcher) handle(ev status.TaskEvent) {
	ctx, cancel := context.WithTimeout(w.ctx, w.config.HandlerTimeout)
	defer cancel()

	if err := w.handler.HandleTaskEvent(ctx, ev); err != nil {
		w.logger.Error("failed to handle task event",
			"app_id", ev.AppID,
			"task_id", ev.TaskID,
			"task_status", ev.TaskStatus,
			"error", err,
		)
	}
}
