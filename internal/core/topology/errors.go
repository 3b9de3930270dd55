package topology

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Input validation errors
	ErrEmptyInput = errors.New("topology document is empty")

	// YAML parsing errors
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// Topology structure errors
	ErrNoNodes          = errors.New("topology must define at least one node")
	ErrDuplicateNode    = errors.New("duplicate node id")
	ErrInvalidNode      = errors.New("invalid node definition")
	ErrInvalidProperty  = errors.New("invalid property value")
	ErrDuplicateElement = errors.New("duplicate capability or relationship")
)

// ParseError wraps errors with context about where parsing failed.
type ParseError struct {
	Field   string // e.g., "nodes[1].capabilities[0].name"
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError creates a new ParseError.
func NewParseError(field, message string, err error) *ParseError {
	return &ParseError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}
