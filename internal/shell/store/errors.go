// Package store persists deployments, task states and port assignments.
package store

import (
	"errors"
	"fmt"
)

// Entity names carried by StoreError.
const (
	EntityDeployment = "deployment"
	EntityTask       = "task"
	EntityPort       = "port"
)

var (
	ErrNotFound    = errors.New("entity not found")
	ErrDuplicateID = errors.New("entity with this ID already exists")

	// ErrPortTaken means the port is recorded for a different node endpoint.
	// The allocator never hands out a port twice, so this points at a store
	// shared by two allocators.
	ErrPortTaken = errors.New("service port already recorded for another endpoint")

	// ErrForeignKey is returned for a task whose deployment does not exist.
	ErrForeignKey = errors.New("foreign key constraint violated")

	ErrConnectionFailed = errors.New("database connection failed")
	ErrMigrationFailed  = errors.New("database migration failed")
	ErrTxFailed         = errors.New("transaction failed")

	// ErrInvalidData marks a row whose timestamps or manifest cannot be read back.
	ErrInvalidData = errors.New("invalid data format")
)

// StoreError records the store operation and the entity it touched.
// ID is a deployment id, a task id or a node/endpoint key.
type StoreError struct {
	Op      string
	Entity  string
	ID      string
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	switch {
	case e.ID != "":
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	case e.Entity != "":
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entity, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func NewStoreError(op, entity, id, message string, err error) *StoreError {
	return &StoreError{Op: op, Entity: entity, ID: id, Message: message, Err: err}
}
