package docker

import (
	"errors"
	"fmt"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

// Container lifecycle.
var (
	ErrContainerNotFound       = errors.New("container not found")
	ErrContainerAlreadyExists  = errors.New("container already exists")
	ErrContainerNotRunning     = errors.New("container is not running")
	ErrContainerAlreadyRunning = errors.New("container is already running")
	ErrPortAlreadyAllocated    = errors.New("port is already allocated")
)

// Stack provisioning: networks and volumes.
var (
	ErrNetworkNotFound      = errors.New("network not found")
	ErrNetworkAlreadyExists = errors.New("network already exists")
	ErrNetworkInUse         = errors.New("network has active endpoints")
	ErrVolumeNotFound       = errors.New("volume not found")
	ErrVolumeInUse          = errors.New("volume is in use")
)

// Images and the daemon connection.
var (
	ErrImageNotFound    = errors.New("image not found")
	ErrImagePullFailed  = errors.New("image pull failed")
	ErrImageBuildFailed = errors.New("image build failed")
	ErrConnectionFailed = errors.New("docker connection failed")
)

// DockerError carries the failing operation and entity alongside a sentinel,
// so callers can match with errors.Is and still log something readable.
type DockerError struct {
	Op      string
	Entity  string // container, network, volume or image
	ID      string
	Message string
	Err     error
}

func (e *DockerError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *DockerError) Unwrap() error {
	return e.Err
}

// NewDockerError creates a new DockerError.
func NewDockerError(op, entity, id, message string, err error) *DockerError {
	return &DockerError{
		Op:      op,
		Entity:  entity,
		ID:      id,
		Message: message,
		Err:     err,
	}
}
