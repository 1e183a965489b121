package hostspace

import (
	"errors"
	"fmt"
)

// ErrModuleNotFound is returned when no registered module version satisfies
// a load request.
var ErrModuleNotFound = errors.New("module not found")

// ModuleNotFoundError carries the failed module reference.
type ModuleNotFoundError struct {
	ID         string
	Constraint string
}

func (e *ModuleNotFoundError) Error() string {
	if e.Constraint == "" {
		return fmt.Sprintf("module not found: %s", e.ID)
	}
	return fmt.Sprintf("module not found: %s (constraint %q)", e.ID, e.Constraint)
}

// Is allows errors.Is(err, ErrModuleNotFound).
func (e *ModuleNotFoundError) Is(target error) bool {
	return target == ErrModuleNotFound
}
