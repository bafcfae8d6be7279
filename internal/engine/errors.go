package engine

import (
	"errors"
	"fmt"
)

// StateErrorCode categorizes state errors.
type StateErrorCode string

const (
	// ErrCodeIllegalState indicates an operation not allowed in the current state.
	ErrCodeIllegalState StateErrorCode = "ILLEGAL_STATE"

	// ErrCodeReentrant indicates a lifecycle call made from inside start.
	ErrCodeReentrant StateErrorCode = "REENTRANT_CALL"

	// ErrCodeStartTimeout indicates a transaction gave up waiting for start.
	ErrCodeStartTimeout StateErrorCode = "START_TIMEOUT"
)

// StateError reports an operation that is illegal given the runtime state.
type StateError struct {
	Code    StateErrorCode
	Op      string
	State   State
	Message string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %s: %s (state=%s)", e.Code, e.Op, e.Message, e.State)
}

func illegalState(op string, s State) *StateError {
	var msg string
	switch s {
	case StateFresh:
		msg = "runtime has not been started"
	case StateStarting:
		msg = "runtime is starting"
	case StateStarted:
		msg = "runtime has already been started"
	case StateStopping:
		msg = "runtime is stopping"
	case StateDestroyed:
		msg = "runtime has been destroyed"
	case StateFailed:
		msg = "runtime failed to start"
	}
	return &StateError{Code: ErrCodeIllegalState, Op: op, State: s, Message: msg}
}

// IsStateError reports whether err is, or wraps, a StateError.
func IsStateError(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}

// InitializationError reports a module hook failing during start.
type InitializationError struct {
	ModuleID string
	Action   Action
	Err      error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("module %q: %s failed: %v", e.ModuleID, e.Action, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// IsInitializationError reports whether err is, or wraps, an InitializationError.
func IsInitializationError(err error) bool {
	var ie *InitializationError
	return errors.As(err, &ie)
}

// CommitError reports a module rejecting a transaction in BeforeCommit.
// The module's error is the cause.
type CommitError struct {
	ModuleID string
	TxID     string
	Err      error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("module %q rejected transaction %s: %v", e.ModuleID, e.TxID, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// IsCommitError reports whether err is, or wraps, a CommitError.
func IsCommitError(err error) bool {
	var ce *CommitError
	return errors.As(err, &ce)
}
