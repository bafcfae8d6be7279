package module

import (
	"errors"
	"fmt"
)

// AbortError is a deliberate request to roll back the current transaction.
type AbortError struct {
	Reason string
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("transaction aborted: %s", e.Reason)
}

// Abort returns an error that rolls the current transaction back.
func Abort(reason string) error {
	return &AbortError{Reason: reason}
}

// IsAbort reports whether err is, or wraps, an AbortError.
func IsAbort(err error) bool {
	var ae *AbortError
	return errors.As(err, &ae)
}

// DriftError reports that a module's derived state no longer matches the
// data. It is never surfaced to the host transaction; the module is
// reinitialized at the next start.
type DriftError struct {
	Reason string
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("module needs reinitialization: %s", e.Reason)
}

// NeedsReinitialization returns a drift signal.
func NeedsReinitialization(reason string) error {
	return &DriftError{Reason: reason}
}

// IsDrift reports whether err is, or wraps, a DriftError.
func IsDrift(err error) bool {
	var de *DriftError
	return errors.As(err, &de)
}
