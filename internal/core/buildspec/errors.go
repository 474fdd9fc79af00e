// Package buildspec contains the pure model of a staged image build.
// This is part of the Functional Core - declaring, exporting, promoting and
// finalizing stages never touches a container runtime.
package buildspec

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Stage declaration errors
	ErrStageExists = errors.New("stage already declared")
	ErrUnknownBase = errors.New("base references an undeclared stage")
	ErrUnknownStage = errors.New("stage not declared")
	ErrInvalidStageName = errors.New("invalid stage name")

	// Artifact errors
	ErrUnresolvedArtifact = errors.New("artifact path not produced by stage")
	ErrNotExported        = errors.New("artifact path was not exported")

	// Promotion errors
	ErrPromoteOrder = errors.New("target stage must be declared after source stage")

	// Finalization errors
	ErrStageSealed  = errors.New("stage is sealed")
	ErrNoEntrypoint = errors.New("entrypoint must not be empty")
	ErrNotFinalized = errors.New("pipeline has no finalized runtime stage")
)

// BuildError wraps errors with context about which stage operation failed.
type BuildError struct {
	Op      string // Operation that failed (e.g., "DeclareStage")
	Stage   string // Stage name if applicable
	Message string
	Err     error
}

func (e *BuildError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// NewBuildError creates a new BuildError.
func NewBuildError(op, stage, message string, err error) *BuildError {
	return &BuildError{
		Op:      op,
		Stage:   stage,
		Message: message,
		Err:     err,
	}
}
