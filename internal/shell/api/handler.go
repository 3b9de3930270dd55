// Package api provides HTTP handlers for the marathoner API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/artpar/marathoner/internal/core/compiler"
	manifest "github.com/artpar/marathoner/internal/core/marathon"
	"github.com/artpar/marathoner/internal/core/ports"
	"github.com/artpar/marathoner/internal/core/status"
	"github.com/artpar/marathoner/internal/core/topology"
	apimw "github.com/artpar/marathoner/internal/shell/api/middleware"
	"github.com/artpar/marathoner/internal/shell/api/openapi"
	"github.com/artpar/marathoner/internal/shell/deployer"
	"github.com/artpar/marathoner/internal/shell/store"
)

// maxTopologySize bounds request bodies carrying a topology document.
const maxTopologySize = 4 << 20

// =============================================================================
// Handler
// =============================================================================

// Deployments is the deployment service behind the API.
type Deployments interface {
	Compile(ctx context.Context, deploymentID string, topo *topology.Topology) (*manifest.Group, error)
	Deploy(ctx context.Context, deploymentID string, topo *topology.Topology) (*status.Deployment, error)
	Undeploy(ctx context.Context, id string) (*status.Deployment, error)
	Get(ctx context.Context, id string) (*status.Deployment, error)
	List(ctx context.Context, opts store.ListOptions) ([]status.Deployment, error)
	Tasks(ctx context.Context, id string) ([]status.Task, error)
	Manifest(ctx context.Context, id string) (*manifest.Group, error)
	Ports() []ports.Assignment
}

// Checker is a dependency probed by the readiness endpoint.
type Checker interface {
	Ping(ctx context.Context) error
}

// Handler provides HTTP handlers for the API.
type Handler struct {
	deployments Deployments
	checks      map[string]Checker
	metrics     http.Handler
	openapi     *openapi.Generator
	authToken   string
	logger      *slog.Logger
}

// Option configures the handler.
type Option func(*Handler)

// WithAuthToken requires the token on every /api/v1 request.
func WithAuthToken(token string) Option {
	return func(h *Handler) {
		h.authToken = token
	}
}

// NewHandler creates a new API handler. checks are probed by /ready;
// metrics, when set, is served at /metrics.
func NewHandler(d Deployments, checks map[string]Checker, metrics http.Handler, l *slog.Logger, opts ...Option) *Handler {
	if l == nil {
		l = slog.Default()
	}
	h := &Handler{
		deployments: d,
		checks:      checks,
		metrics:     metrics,
		openapi:     openapi.NewGenerator(openapi.WithErrorModel(ErrorResponse{})),
		logger:      l.With("component", "api"),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.openapi.Register(routeDocs()...)
	return h
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apimw.AccessLog(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(h.jsonContentType)
	r.Use(h.requestIDHeader)

	// Health endpoints
	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)

	r.Get("/openapi.json", h.openapi.Handler())
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}

	// API v1 routes
	auth := apimw.NewAuthMiddleware(apimw.AuthConfig{Token: h.authToken, Logger: h.logger})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Handler)

		r.Post("/compile", h.handleCompile)
		r.Get("/ports", h.handleListPorts)

		r.Route("/deployments", func(r chi.Router) {
			r.Post("/", h.handleCreateDeployment)
			r.Get("/", h.handleListDeployments)
			r.Get("/{id}", h.handleGetDeployment)
			r.Delete("/{id}", h.handleDeleteDeployment)
			r.Get("/{id}/tasks", h.handleListTasks)
			r.Get("/{id}/manifest", h.handleGetManifest)
		})
	})

	return r
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets Content-Type header to application/json.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make(map[string]string, len(h.checks))
	ready := true
	for _, name := range names {
		if err := h.checks[name].Ping(ctx); err != nil {
			h.logger.Warn("readiness check failed", "check", name, "error", err)
			checks[name] = "failed"
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	if !ready {
		h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{Status: "not_ready", Checks: checks})
		return
	}
	h.writeJSON(w, http.StatusOK, ReadyResponse{Status: "ready", Checks: checks})
}

// =============================================================================
// Compile Handlers
// =============================================================================

func (h *Handler) handleCompile(w http.ResponseWriter, r *http.Request) {
	deploymentID, topo, ok := h.readTopology(w, r)
	if !ok {
		return
	}

	group, err := h.deployments.Compile(r.Context(), deploymentID, topo)

	var groupErr *compiler.GroupError
	switch {
	case errors.As(err, &groupErr) && group != nil:
		// skip policy: the partial group is still a useful preview
	case err != nil:
		h.writeDeploymentError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "compose" {
		out, err := manifest.ComposeYAML(group)
		if err != nil {
			h.writeError(w, http.StatusUnprocessableEntity, err.Error(), "compose_error")
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(out); err != nil {
			h.logger.Error("failed to write compose document", "error", err)
		}
		return
	}

	resp := CompileResponse{Group: group, StartupOrder: make([]string, 0, len(group.Apps))}
	if ordered, err := manifest.StartupOrder(group.Apps); err == nil {
		for _, a := range ordered {
			resp.StartupOrder = append(resp.StartupOrder, a.ID)
		}
	}
	if groupErr != nil {
		resp.Failures = compileFailures(groupErr)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListPorts(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, PortsResponse{Ports: h.deployments.Ports()})
}

// =============================================================================
// Deployment Handlers
// =============================================================================

func (h *Handler) handleCreateDeployment(w http.ResponseWriter, r *http.Request) {
	deploymentID, topo, ok := h.readTopology(w, r)
	if !ok {
		return
	}

	d, err := h.deployments.Deploy(r.Context(), deploymentID, topo)
	if err != nil {
		if d != nil {
			// recorded, but the backend rejected the group
			h.writeError(w, http.StatusBadGateway, err.Error(), "backend_error")
			return
		}
		h.writeDeploymentError(w, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, deploymentToResponse(d))
}

func (h *Handler) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	opts := store.DefaultListOptions()
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "limit must be an integer", "validation_error")
			return
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "offset must be an integer", "validation_error")
			return
		}
		opts.Offset = n
	}
	opts.Status = status.DeploymentStatus(q.Get("status"))
	opts = opts.Normalize()

	deployments, err := h.deployments.List(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list deployments", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list deployments", "internal_error")
		return
	}

	resp := ListDeploymentsResponse{
		Deployments: make([]DeploymentResponse, 0, len(deployments)),
		Limit:       opts.Limit,
		Offset:      opts.Offset,
	}
	for i := range deployments {
		resp.Deployments = append(resp.Deployments, deploymentToResponse(&deployments[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	d, err := h.deployments.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDeploymentError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, deploymentToResponse(d))
}

func (h *Handler) handleDeleteDeployment(w http.ResponseWriter, r *http.Request) {
	d, err := h.deployments.Undeploy(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if d != nil {
			h.writeError(w, http.StatusBadGateway, err.Error(), "backend_error")
			return
		}
		h.writeDeploymentError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, deploymentToResponse(d))
}

func (h *Handler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.deployments.Tasks(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDeploymentError(w, err)
		return
	}
	if tasks == nil {
		tasks = []status.Task{}
	}
	h.writeJSON(w, http.StatusOK, TasksResponse{Tasks: tasks})
}

func (h *Handler) handleGetManifest(w http.ResponseWriter, r *http.Request) {
	group, err := h.deployments.Manifest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDeploymentError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, group)
}

// =============================================================================
// Helpers
// =============================================================================

// readTopology parses the request body as a topology document. The
// deployment_id query parameter overrides the id in the document.
func (h *Handler) readTopology(w http.ResponseWriter, r *http.Request) (string, *topology.Topology, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTopologySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "topology document is too large", "validation_error")
			return "", nil, false
		}
		h.writeError(w, http.StatusBadRequest, "failed to read request body", "validation_error")
		return "", nil, false
	}

	doc, err := topology.ParseTopology(body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "invalid_topology")
		return "", nil, false
	}

	deploymentID := doc.DeploymentID
	if v := r.URL.Query().Get("deployment_id"); v != "" {
		deploymentID = v
	}
	return deploymentID, doc.Topology, true
}

// writeDeploymentError maps compiler, deployer and store errors onto
// responses.
func (h *Handler) writeDeploymentError(w http.ResponseWriter, err error) {
	var groupErr *compiler.GroupError
	var compileErr *compiler.CompileError

	switch {
	case errors.As(err, &groupErr):
		h.writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:    groupErr.Error(),
			Code:     "compile_failed",
			Failures: compileFailures(groupErr),
		})
	case errors.As(err, &compileErr):
		h.writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:  compileErr.Error(),
			Code:   compileErr.Code(),
			NodeID: compileErr.NodeID,
			Field:  compileErr.Field,
		})
	case errors.Is(err, manifest.ErrDependencyCycle):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error(), "dependency_cycle")
	case errors.Is(err, store.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "deployment not found", "deployment_not_found")
	case errors.Is(err, deployer.ErrConflict):
		h.writeError(w, http.StatusConflict, err.Error(), "invalid_state")
	default:
		h.logger.Error("deployment operation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal error", "internal_error")
	}
}

func compileFailures(e *compiler.GroupError) []CompileFailure {
	failures := make([]CompileFailure, 0, len(e.Failures))
	for _, f := range e.Failures {
		failures = append(failures, CompileFailure{
			NodeID: f.NodeID,
			Field:  f.Field,
			Error:  f.Error(),
			Code:   f.Code(),
		})
	}
	return failures
}

func (h *Handler) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, statusCode int, message, code string) {
	h.writeJSON(w, statusCode, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func deploymentToResponse(d *status.Deployment) DeploymentResponse {
	return DeploymentResponse{
		ID:           d.ID,
		GroupID:      d.GroupID,
		Status:       string(d.Status),
		ErrorMessage: d.ErrorMessage,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}
