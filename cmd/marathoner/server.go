package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/artpar/marathoner/internal/core/compiler"
	"github.com/artpar/marathoner/internal/core/ports"
	"github.com/artpar/marathoner/internal/shell/api"
	"github.com/artpar/marathoner/internal/shell/deployer"
	"github.com/artpar/marathoner/internal/shell/marathon"
	"github.com/artpar/marathoner/internal/shell/metrics"
	"github.com/artpar/marathoner/internal/shell/store"
	"github.com/artpar/marathoner/internal/shell/workers"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitDatabaseError   = 2
	ExitBackendError    = 3
	ExitHTTPServerError = 4
	ExitCompileError    = 5
)

// =============================================================================
// Server
// =============================================================================

// Server represents the marathoner application server.
type Server struct {
	config        *Config
	httpServer    *http.Server
	store         store.Store
	deployer      *deployer.Service
	statusWatcher *workers.StatusWatcher
	groupChecker  *workers.GroupChecker
	logger        *slog.Logger
}

// NewServer creates a new server with the given config.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	compilerCfg, err := cfg.Compiler.Build()
	if err != nil {
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitConfigError,
		}
	}

	// Connect to database
	s, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitDatabaseError,
		}
	}

	if cfg.Marathon.URL == "" {
		s.Close()
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      errors.New("marathon.url is required"),
			ExitCode: ExitBackendError,
		}
	}
	client := marathon.NewClient(marathon.Config{
		BaseURL:           cfg.Marathon.URL,
		Username:          cfg.Marathon.Username,
		Password:          cfg.Marathon.Password,
		Token:             cfg.Marathon.Token,
		Timeout:           cfg.Marathon.Timeout,
		ReconnectInterval: cfg.Marathon.ReconnectInterval,
	}, logger)

	m := metrics.New()
	c := compiler.New(ports.New(cfg.Ports.Base), compilerCfg)

	svc := deployer.NewService(c, s, client, m, deployer.Config{
		Force:        cfg.Marathon.Force,
		PersistPorts: cfg.Ports.Persist,
	}, logger)

	// No-op unless ports.persist is set
	if err := svc.RestorePorts(context.Background()); err != nil {
		s.Close()
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitDatabaseError,
		}
	}

	handler := api.NewHandler(svc, map[string]api.Checker{
		"database": s,
		"marathon": client,
	}, m.Handler(), logger, api.WithAuthToken(cfg.Server.AuthToken))

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var statusWatcher *workers.StatusWatcher
	if cfg.Events.Enabled {
		statusWatcher = workers.NewStatusWatcher(client, svc, workers.StatusWatcherConfig{
			HandlerTimeout: cfg.Events.HandlerTimeout,
		}, logger)
	} else {
		logger.Info("task event stream disabled")
	}

	var groupChecker *workers.GroupChecker
	if cfg.Checker.Enabled {
		groupChecker = workers.NewGroupChecker(svc, workers.GroupCheckerConfig{
			Interval:      cfg.Checker.Interval,
			GroupTimeout:  cfg.Checker.Timeout,
			MaxConcurrent: cfg.Checker.MaxConcurrent,
		}, logger)
	}

	logger.Info("server configured",
		"marathon_url", cfg.Marathon.URL,
		"port_base", cfg.Ports.Base,
		"persist_ports", cfg.Ports.Persist,
		"haproxy_group", compilerCfg.HAProxyGroup,
		"on_node_error", compilerCfg.OnNodeError,
	)

	return &Server{
		config:        cfg,
		httpServer:    httpServer,
		store:         s,
		deployer:      svc,
		statusWatcher: statusWatcher,
		groupChecker:  groupChecker,
		logger:        logger,
	}, nil
}

// Start starts the server and blocks until a shutdown signal arrives, ctx is
// cancelled or the HTTP server fails.
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if s.statusWatcher != nil {
		s.statusWatcher.Start()
	}
	if s.groupChecker != nil {
		s.groupChecker.Start()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("starting HTTP server",
			"address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return &ServerError{
				Op:       "Start",
				Err:      err,
				ExitCode: ExitHTTPServerError,
			}
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutdown requested")
		return s.Shutdown(context.Background())
	})

	return g.Wait()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.statusWatcher != nil {
		s.statusWatcher.Stop()
	}
	if s.groupChecker != nil {
		s.groupChecker.Stop()
	}

	if err := s.store.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

// =============================================================================
// Errors
// =============================================================================

// ServerError represents a server error with an exit code.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
