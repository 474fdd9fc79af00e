// Package topology contains the pure service dependency model: descriptors,
// the dependency graph, startup ordering, port and volume bookkeeping, and
// the per-service state machine. This is part of the Functional Core - no
// container runtime is touched here.
package topology

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Registration errors
	ErrDuplicateService = errors.New("service already registered")
	ErrInvalidService   = errors.New("invalid service descriptor")
	ErrUnknownService   = errors.New("service not registered")

	// Graph errors
	ErrUnknownDependency = errors.New("dependency references an unregistered service")
	ErrSelfDependency    = errors.New("service depends on itself")
	ErrCyclicDependency  = errors.New("dependency cycle detected")

	// Port errors
	ErrInvalidPort  = errors.New("invalid port mapping")
	ErrPortConflict = errors.New("host port already claimed")

	// Volume errors
	ErrVolumeRemapped = errors.New("volume already attached at a different path")

	// State machine errors
	ErrInvalidTransition = errors.New("invalid service state transition")
)

// TopologyError wraps errors with context about which operation and service
// failed.
type TopologyError struct {
	Op      string // Operation that failed (e.g., "Register")
	Service string // Service name if applicable
	Message string
	Err     error
}

func (e *TopologyError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Service, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *TopologyError) Unwrap() error {
	return e.Err
}

// NewTopologyError creates a new TopologyError.
func NewTopologyError(op, service, message string, err error) *TopologyError {
	return &TopologyError{
		Op:      op,
		Service: service,
		Message: message,
		Err:     err,
	}
}

// =============================================================================
// Structured Errors
// =============================================================================

// CycleError reports a dependency cycle with its member services, in the
// order they were encountered.
type CycleError struct {
	Members []string
}

func (e *CycleError) Error() string {
	if len(e.Members) == 0 {
		return ErrCyclicDependency.Error()
	}
	return fmt.Sprintf("dependency cycle detected: %s -> %s",
		strings.Join(e.Members, " -> "), e.Members[0])
}

func (e *CycleError) Unwrap() error {
	return ErrCyclicDependency
}

// PortConflictError reports two services claiming the same host port.
type PortConflictError struct {
	HostPort int
	Claimant string // service whose binding failed
	Holder   string // service that already holds the port
}

func (e *PortConflictError) Error() string {
	return fmt.Sprintf("host port %d claimed by both %s and %s", e.HostPort, e.Holder, e.Claimant)
}

func (e *PortConflictError) Unwrap() error {
	return ErrPortConflict
}
