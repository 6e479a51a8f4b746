package k6s

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrInvalidConfig is returned when the project configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrAlreadyRunning is returned when starting a runtime while one is live
	ErrAlreadyRunning = errors.New("governance already running")

	// ErrNotRunning is returned when stopping a runtime that was not started
	ErrNotRunning = errors.New("governance not running")

	// ErrNoActiveSession is returned when an operation needs a live session
	ErrNoActiveSession = errors.New("no active session")

	// ErrMarkerNotFound is returned when the daemon state file is missing
	ErrMarkerNotFound = errors.New("daemon state file not found")
)

// GovernanceError represents an error with additional context
type GovernanceError struct {
	Op        string         // Operation that failed
	Err       error          // Underlying error
	SessionID string         // Session ID if applicable
	Context   map[string]any // Additional context
}

// Error implements the error interface
func (e *GovernanceError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s (session=%s): %v", e.Op, e.SessionID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *GovernanceError) Unwrap() error {
	return e.Err
}

// WithContext adds additional context to the error
func (e *GovernanceError) WithContext(key string, value any) *GovernanceError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// NewGovernanceError creates a new GovernanceError
func NewGovernanceError(op string, err error) *GovernanceError {
	return &GovernanceError{
		Op:  op,
		Err: err,
	}
}

// NewGovernanceErrorWithSession creates a new GovernanceError with session ID
func NewGovernanceErrorWithSession(op string, sessionID string, err error) *GovernanceError {
	return &GovernanceError{
		Op:        op,
		Err:       err,
		SessionID: sessionID,
	}
}
