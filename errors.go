package crucible

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error patterns. These allow errors.Is()
// checks next to errors.As() for detailed information.
var (
	// ErrUnresolvedCapability is reported when a requested name or module
	// cannot be found in the host environment at injection time. It is
	// recovered locally: the entry is skipped with a warning.
	ErrUnresolvedCapability = errors.New("unresolved capability")

	// ErrRelaxedExecution is returned when code evaluated under a relaxed
	// whitelist failed. The whitelist is restored before it propagates.
	ErrRelaxedExecution = errors.New("relaxed execution failed")

	// ErrInjectionFailed wraps any failure surfacing from ApplyAll at the
	// hook boundary.
	ErrInjectionFailed = errors.New("capability injection failed")
)

// UnresolvedCapabilityError identifies the name (and module, if any) that
// could not be resolved.
type UnresolvedCapabilityError struct {
	Name   string
	Module string
}

func (e *UnresolvedCapabilityError) Error() string {
	if e.Module != "" {
		return fmt.Sprintf("unresolved capability: %s (module %s)", e.Name, e.Module)
	}
	return fmt.Sprintf("unresolved capability: %s", e.Name)
}

// Is allows errors.Is(err, ErrUnresolvedCapability).
func (e *UnresolvedCapabilityError) Is(target error) bool {
	return target == ErrUnresolvedCapability
}

// RelaxedExecutionError carries the failed code fragment and its cause.
type RelaxedExecutionError struct {
	Fragment string
	Cause    error
}

func (e *RelaxedExecutionError) Error() string {
	return fmt.Sprintf("relaxed execution failed for fragment %q: %v", e.Fragment, e.Cause)
}

func (e *RelaxedExecutionError) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is(err, ErrRelaxedExecution).
func (e *RelaxedExecutionError) Is(target error) bool {
	return target == ErrRelaxedExecution
}

// InjectionError wraps a failure of the whole injection pass for one
// compartment.
type InjectionError struct {
	Compartment string
	Cause       error
}

func (e *InjectionError) Error() string {
	return fmt.Sprintf("capability injection failed for compartment %q: %v", e.Compartment, e.Cause)
}

func (e *InjectionError) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is(err, ErrInjectionFailed).
func (e *InjectionError) Is(target error) bool {
	return target == ErrInjectionFailed
}
