package marathon

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrNotFound     = errors.New("not found on backend")
	ErrUnauthorized = errors.New("backend rejected credentials")
	ErrLocked       = errors.New("group is locked by a running backend deployment")
)

// APIError is a non-success response of the backend API.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Message)
}

// Unwrap maps well known status codes onto sentinel errors.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusConflict:
		return ErrLocked
	default:
		return nil
	}
}

// newAPIError builds an APIError, preferring the "message" field of a JSON
// error body over the raw body.
func newAPIError(op string, statusCode int, body []byte) *APIError {
	msg := strings.TrimSpace(string(body))
	var parsed struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Message != "" {
		msg = parsed.Message
	}
	return &APIError{Op: op, StatusCode: statusCode, Message: msg}
}
