// Package marathon is the client of the container orchestrator's REST API.
// It submits compiled groups, removes them again and follows the task
// event stream.
package marathon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	manifest "github.com/artpar/marathoner/internal/core/marathon"
)

// Client talks to the backend API.
type Client struct {
	baseURL      string
	username     string
	password     string
	token        string
	httpClient   *http.Client
	streamClient *http.Client
	reconnect    time.Duration
	logger       *slog.Logger
}

// Config holds backend client configuration.
type Config struct {
	BaseURL  string // e.g., "http://marathon.mesos:8080"
	Username string // HTTP basic auth, optional
	Password string
	Token    string // DC/OS ACS token, optional
	Timeout  time.Duration

	// ReconnectInterval is the first delay before the event stream is
	// reopened. Later attempts back off exponentially.
	ReconnectInterval time.Duration
}

// NewClient creates a new backend client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	reconnect := cfg.ReconnectInterval
	if reconnect == 0 {
		reconnect = time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		token:    cfg.Token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		// The event stream stays open indefinitely.
		streamClient: &http.Client{},
		reconnect:    reconnect,
		logger:       logger.With("component", "marathon_client"),
	}
}

// =============================================================================
// Response Types
// =============================================================================

// DeploymentResult is returned by calls that start a backend deployment.
type DeploymentResult struct {
	Version      string `json:"version"`
	DeploymentID string `json:"deploymentId"`
}

// =============================================================================
// Group Operations
// =============================================================================

// PutGroup creates or replaces a group. With force the backend cancels any
// deployment currently holding a lock on the group.
func (c *Client) PutGroup(ctx context.Context, group *manifest.Group, force bool) (*DeploymentResult, error) {
	body, err := json.Marshal(group)
	if err != nil {
		return nil, fmt.Errorf("marshal group: %w", err)
	}

	var result DeploymentResult
	if err := c.do(ctx, "put group", http.MethodPut, groupPath(group.ID, force), body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetGroup fetches a group with its apps.
func (c *Client) GetGroup(ctx context.Context, id string) (*manifest.Group, error) {
	path := "/v2/groups/" + strings.TrimPrefix(id, "/") + "?embed=group.apps"

	var group manifest.Group
	if err := c.do(ctx, "get group", http.MethodGet, path, nil, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

// DeleteGroup removes a group and all its apps.
func (c *Client) DeleteGroup(ctx context.Context, id string, force bool) (*DeploymentResult, error) {
	var result DeploymentResult
	if err := c.do(ctx, "delete group", http.MethodDelete, groupPath(id, force), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Ping checks that the backend is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "ping", http.MethodGet, "/ping", nil, nil)
}

// =============================================================================
// Helper Methods
// =============================================================================

func groupPath(id string, force bool) string {
	path := "/v2/groups/" + strings.TrimPrefix(id, "/")
	if force {
		path += "?" + url.Values{"force": {strconv.FormatBool(force)}}.Encode()
	}
	return path
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return newAPIError(op, resp.StatusCode, body)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	switch {
	case c.token != "":
		req.Header.Set("Authorization", "token="+c.token)
	case c.username != "":
		req.SetBasicAuth(c.username, c.password)
	}
}
