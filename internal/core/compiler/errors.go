package compiler

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Error Categories
// =============================================================================

var (
	// ErrValidation marks a node whose declared data does not satisfy the
	// compiler's preconditions.
	ErrValidation = errors.New("validation failed")

	// ErrUnsupported marks an artifact in a form the compiler cannot handle.
	ErrUnsupported = errors.New("unsupported feature")

	// ErrNotImplemented marks a node without any implementation artifact.
	ErrNotImplemented = errors.New("not implemented")
)

// =============================================================================
// CompileError
// =============================================================================

// CompileError reports why a single node could not be compiled.
type CompileError struct {
	NodeID  string
	Field   string // e.g., "mem_share", "capabilities.sql.port"
	Message string
	Err     error // category: ErrValidation, ErrUnsupported, ErrNotImplemented
	Cause   error
}

func (e *CompileError) Error() string {
	var b strings.Builder
	if e.NodeID != "" {
		fmt.Fprintf(&b, "node %s: ", e.NodeID)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, "%s: ", e.Field)
	}
	b.WriteString(e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *CompileError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// Code returns a short machine readable name of the error category.
func (e *CompileError) Code() string {
	switch {
	case errors.Is(e.Err, ErrUnsupported):
		return "unsupported"
	case errors.Is(e.Err, ErrNotImplemented):
		return "not_implemented"
	default:
		return "validation_error"
	}
}

func newValidationError(nodeID, field, message string, cause error) *CompileError {
	return &CompileError{NodeID: nodeID, Field: field, Message: message, Err: ErrValidation, Cause: cause}
}

// =============================================================================
// GroupError
// =============================================================================

// GroupError collects the node failures of a group compiled with
// SkipOnError. The group returned next to it holds the apps that compiled.
type GroupError struct {
	Failures []*CompileError
}

func (e *GroupError) Error() string {
	if len(e.Failures) == 1 {
		return e.Failures[0].Error()
	}
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, f.Error())
	}
	return fmt.Sprintf("%d nodes failed to compile: %s", len(e.Failures), strings.Join(msgs, "; "))
}

func (e *GroupError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f)
	}
	return errs
}

// NodeIDs returns the ids of the nodes that were skipped.
func (e *GroupError) NodeIDs() []string {
	ids := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		ids = append(ids, f.NodeID)
	}
	return ids
}
