// Package manifest contains pure functions for parsing stack manifests.
// This is part of the Functional Core - all functions are pure with no I/O.
package manifest

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Input validation errors
	ErrEmptyInput = errors.New("manifest is empty")

	// YAML parsing errors
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// Manifest structure errors
	ErrNoServices = errors.New("manifest must define at least one service")

	// Service validation errors
	ErrServiceNoImage     = errors.New("service must have image or build")
	ErrServiceInvalidPort = errors.New("invalid port configuration")
	ErrUnknownVolume      = errors.New("service references undeclared volume")

	// Unsupported feature errors
	ErrUnsupportedFeature = errors.New("unsupported manifest feature")
)

// ParseError wraps errors with context about where parsing failed.
type ParseError struct {
	Field   string // e.g., "services.backend.ports[0]"
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
