package registry

import (
	"errors"
	"fmt"
	"strings"
)

// DuplicateModuleError is returned when registering a module twice.
type DuplicateModuleError struct {
	ID string

	// SameInstance is set when the instance is already registered, possibly
	// under another id (ExistingID).
	SameInstance bool
	ExistingID   string
}

func (e *DuplicateModuleError) Error() string {
	if e.SameInstance {
		return fmt.Sprintf("module instance %q is already registered as %q", e.ID, e.ExistingID)
	}
	return fmt.Sprintf("module %q is already registered", e.ID)
}

// NotFoundError is returned when no module matches a lookup.
type NotFoundError struct {
	Query string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no module found for %s", e.Query)
}

// AmbiguousModuleError is returned when a lookup expecting one module
// matches several.
type AmbiguousModuleError struct {
	Query string
	IDs   []string
}

func (e *AmbiguousModuleError) Error() string {
	return fmt.Sprintf("more than one module found for %s: %s", e.Query, strings.Join(e.IDs, ", "))
}

// IsDuplicate reports whether err is, or wraps, a DuplicateModuleError.
func IsDuplicate(err error) bool {
	var de *DuplicateModuleError
	return errors.As(err, &de)
}

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}

// IsAmbiguous reports whether err is, or wraps, an AmbiguousModuleError.
func IsAmbiguous(err error) bool {
	var ae *AmbiguousModuleError
	return errors.As(err, &ae)
}
