// Package ledger persists build and launch history in SQLite.
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrNotFound is returned when a run is not found.
	ErrNotFound = errors.New("run not found")

	// ErrConnectionFailed is returned when the database cannot be opened.
	ErrConnectionFailed = errors.New("database connection failed")

	// ErrMigrationFailed is returned when database migration fails.
	ErrMigrationFailed = errors.New("database migration failed")
)

// LedgerError wraps errors with additional context.
type LedgerError struct {
	Op      string // Operation that failed (e.g., "CreateRun")
	ID      string // Run ID if applicable
	Message string
	Err     error
}

func (e *LedgerError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.ID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

// NewLedgerError creates a new LedgerError.
func NewLedgerError(op, id, message string, err error) *LedgerError {
	return &LedgerError{
		Op:      op,
		ID:      id,
		Message: message,
		Err:     err,
	}
}
