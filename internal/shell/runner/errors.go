package runner

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	ErrStartFailed     = errors.New("service start failed")
	ErrHealthGate      = errors.New("health gate not satisfied")
	ErrEnvFileRead     = errors.New("environment payload unreadable")
	ErrStackNotRunning = errors.New("no containers found for project")
)

// ServiceStartError reports a service whose container was rejected or died
// during launch. ExitCode is -1 when the container never reached a state
// with an exit code.
type ServiceStartError struct {
	Service  string
	ExitCode int
	Err      error
}

func (e *ServiceStartError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("service %s failed to start (exit code %d)", e.Service, e.ExitCode)
	}
	return fmt.Sprintf("service %s failed to start", e.Service)
}

func (e *ServiceStartError) Unwrap() error {
	return e.Err
}
