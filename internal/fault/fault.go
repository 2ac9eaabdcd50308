package fault

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable error code surfaced to callers.
type Code string

const (
	CodeUnauthenticated Code = "unauthenticated"
	CodeForbidden       Code = "forbidden"
	CodeNotFound        Code = "not_found"
	CodeConflict        Code = "conflict"
	CodeInvariant       Code = "invariant"
	CodeCycleDetected   Code = "cycle_detected"
	CodeWipExceeded     Code = "wip_exceeded"
	CodeLastOwner       Code = "last_owner"
	CodeApprovalState   Code = "approval_state"
)

// Error pairs a code with a human message.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Unauthenticated(format string, args ...any) *Error {
	return New(CodeUnauthenticated, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return New(CodeForbidden, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(CodeConflict, format, args...)
}

func Invariant(format string, args ...any) *Error {
	return New(CodeInvariant, format, args...)
}

func CycleDetected(format string, args ...any) *Error {
	return New(CodeCycleDetected, format, args...)
}

func WipExceeded(format string, args ...any) *Error {
	return New(CodeWipExceeded, format, args...)
}

func LastOwner(format string, args ...any) *Error {
	return New(CodeLastOwner, format, args...)
}

func ApprovalState(format string, args ...any) *Error {
	return New(CodeApprovalState, format, args...)
}

// CodeOf extracts the code from an error chain, or "" when none.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
