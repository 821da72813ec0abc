package utils

import (
	"errors"
	"fmt"
	"strings"
)

// IncompleteInputError reports that more input is needed before parsing can continue.
// It is a control signal rather than a failure: append at least Missing bytes and retry.
type IncompleteInputError struct {
	Missing uint64
}

// Error returns the error message for IncompleteInputError.
func (e *IncompleteInputError) Error() string {
	return fmt.Sprintf("incomplete input: %d more bytes needed", e.Missing)
}

// MalformedBoxError reports a structurally invalid box. Path lists the box types from the
// outermost box down to the one that failed; Offset is the absolute offset of the failing box.
type MalformedBoxError struct {
	Path   []string
	Offset int64
	Reason string
	Err    error
}

// Box returns the type of the deepest box involved in the failure.
func (e *MalformedBoxError) Box() string {
	if len(e.Path) == 0 {
		return ""
	}
	return e.Path[len(e.Path)-1]
}

// Error returns the error message for MalformedBoxError.
func (e *MalformedBoxError) Error() string {
	msg := fmt.Sprintf("malformed box %q at offset %d", e.Box(), e.Offset)
	if len(e.Path) > 1 {
		msg += " (" + strings.Join(e.Path, "/") + ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedBoxError) Unwrap() error {
	return e.Err
}

// UnsupportedBrandError reports that no brand in the file type box is acceptable.
type UnsupportedBrandError struct {
	Brand    string
	Required []string
}

// Error returns the error message for UnsupportedBrandError.
func (e *UnsupportedBrandError) Error() string {
	return fmt.Sprintf("unsupported brand %q, one of [%s] required", e.Brand, strings.Join(e.Required, ","))
}

// InvalidStateError reports an operation that is not allowed in the current state.
type InvalidStateError struct {
	Op    string
	State string
}

// Error returns the error message for InvalidStateError.
func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s: invalid in state %s", e.Op, e.State)
}

// OutOfMemoryError reports an allocation that exceeds the configured limit.
type OutOfMemoryError struct {
	Requested uint64
	Limit     uint64
}

// Error returns the error message for OutOfMemoryError.
func (e *OutOfMemoryError) Error() string {
	return fmt.Sprintf("out of memory: %d bytes requested, limit %d", e.Requested, e.Limit)
}

// IOFailureError wraps a sink or source failure. A fatal failure leaves the writer unusable.
type IOFailureError struct {
	Op     string
	Offset int64
	Fatal  bool
	Err    error
}

// Error returns the error message for IOFailureError.
func (e *IOFailureError) Error() string {
	kind := "io failure"
	if e.Fatal {
		kind = "fatal io failure"
	}
	return fmt.Sprintf("%s: %s at offset %d: %v", kind, e.Op, e.Offset, e.Err)
}

func (e *IOFailureError) Unwrap() error {
	return e.Err
}

// IsIncomplete reports whether err signals incomplete input and how many bytes are missing.
func IsIncomplete(err error) (uint64, bool) {
	var inc *IncompleteInputError
	if errors.As(err, &inc) {
		return inc.Missing, true
	}
	return 0, false
}

// IsFatal reports whether err is an unrecoverable io failure.
func IsFatal(err error) bool {
	var iof *IOFailureError
	return errors.As(err, &iof) && iof.Fatal
}
