// Package domainerrors provides coded errors for the collation domain.
//
// Services return these so callers can branch on the class of failure without
// string matching. Stores do NOT use this package directly; they return
// pkg/platform/sentinel errors and the service layer translates.
//
// Conventions:
//   - New/Newf for errors originating in domain logic
//   - Wrap when an infrastructure error crosses into the domain
//   - HasCode in callers and tests; never compare messages
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	// CodeDuplicate signals a natural-key collision (create of an entity
	// that already exists). Surfaced to the caller, never retried.
	CodeDuplicate Code = "duplicate"

	// CodeInvalidTransition signals an illegal workflow state change.
	// Always surfaced, never silently coerced.
	CodeInvalidTransition Code = "invalid_transition"

	// CodeConflict signals a lost concurrent-update race. The caller should
	// re-read and retry once, or report failure.
	CodeConflict Code = "conflict"

	// CodeNotFound signals an unknown identifier.
	CodeNotFound Code = "not_found"

	// CodeValidation signals rejected business input (bad field values).
	CodeValidation Code = "validation"

	// CodeInvalidInput signals malformed input at a trust boundary
	// (unparseable IDs, unknown enum values).
	CodeInvalidInput Code = "invalid_input"

	// CodeBadRequest signals a structurally incomplete request
	// (missing required arguments).
	CodeBadRequest Code = "bad_request"

	// CodeInvariantViolation signals a broken model invariant detected
	// inside domain logic.
	CodeInvariantViolation Code = "invariant_violation"

	// CodeInternal signals an unexpected infrastructure failure.
	CodeInternal Code = "internal"

	// CodeUnavailable signals a dependency that is temporarily down.
	CodeUnavailable Code = "unavailable"

	// CodeTimeout signals a cancelled or deadline-expired operation.
	CodeTimeout Code = "timeout"
)

// Error is the concrete coded error. Use the constructors; the zero value is
// not meaningful.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error with a static message.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
// Returns nil when err is nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf returns the code of the outermost coded error in the chain, or
// CodeInternal when the error is not coded.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
