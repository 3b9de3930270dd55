package deployer

import "errors"

var (
	// ErrConflict is returned when a deployment is not in a state that
	// allows the requested operation.
	ErrConflict = errors.New("deployment state conflict")

	// ErrInvalidManifest is returned when a stored manifest cannot be decoded.
	ErrInvalidManifest = errors.New("invalid stored manifest")
)
