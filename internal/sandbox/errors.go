package sandbox

import (
	"errors"
	"fmt"

	"github.com/GriffinCanCode/playground/internal/shared/diagnostics"
)

var (
	ErrTimeout           = errors.New("execution timeout exceeded")
	ErrPrelude           = errors.New("prelude error")
	ErrInvalidVendorName = errors.New("invalid vendor module name")
)

const stackOverflowMessage = "RangeError: Maximum call stack size exceeded"

// ModuleNotFoundError reports a specifier no resolution step could satisfy
type ModuleNotFoundError struct {
	Specifier string
	Requester string
}

func (e *ModuleNotFoundError) Error() string {
	if e.Requester == "" {
		return fmt.Sprintf("Failed to resolve module %s", e.Specifier)
	}
	return fmt.Sprintf("Failed to resolve module %s (required by %s)", e.Specifier, e.Requester)
}

// CyclicEntryError reports the entry file being required while it runs
type CyclicEntryError struct {
	Entry     string
	Requester string
}

func (e *CyclicEntryError) Error() string {
	return fmt.Sprintf("Requiring entry file %s would cause an infinite loop (required by %s)", e.Entry, e.Requester)
}

// RuntimeError is the single failure reported for an aborted run. Err is
// the underlying cause; resolution failures thrown inside sandboxed code are
// recovered so errors.As finds them.
type RuntimeError struct {
	Err     error
	Message string // line-corrected message
	Prelude bool
}

func (e *RuntimeError) Error() string {
	if e.Prelude {
		return "prelude error: " + e.Message
	}
	return e.Message
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// Is matches ErrPrelude for failures raised by the prelude script
func (e *RuntimeError) Is(target error) bool {
	return target == ErrPrelude && e.Prelude
}

// Details returns the host-facing form of the error
func (e *RuntimeError) Details() diagnostics.PublicError {
	return diagnostics.Details(e.Error())
}
