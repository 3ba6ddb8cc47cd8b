package battle

import (
	"errors"
	"fmt"
)

// Code is a machine-readable failure class surfaced to callers.
type Code string

const (
	CodeUnauthenticated         Code = "UNAUTHENTICATED"
	CodeForbidden               Code = "FORBIDDEN"
	CodeNotFound                Code = "NOT_FOUND"
	CodeInvalidPhase            Code = "INVALID_PHASE"
	CodePreconditionFailed      Code = "PRECONDITION_FAILED"
	CodeUnimplemented           Code = "UNIMPLEMENTED"
	CodeExternalServiceDegraded Code = "EXTERNAL_SERVICE_DEGRADED"
)

// Error is a domain failure. Validation errors are returned before any write.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any *Error with the same code, so errors.Is(err, ErrForbidden) works
// regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrUnauthenticated    = &Error{Code: CodeUnauthenticated, Message: "no resolvable identity"}
	ErrForbidden          = &Error{Code: CodeForbidden, Message: "forbidden"}
	ErrNotFound           = &Error{Code: CodeNotFound, Message: "not found"}
	ErrInvalidPhase       = &Error{Code: CodeInvalidPhase, Message: "action not allowed in current phase"}
	ErrPreconditionFailed = &Error{Code: CodePreconditionFailed, Message: "precondition failed"}
	ErrUnimplemented      = &Error{Code: CodeUnimplemented, Message: "not implemented"}
)

func errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func forbidden(format string, args ...any) *Error { return errorf(CodeForbidden, format, args...) }

func notFound(format string, args ...any) *Error { return errorf(CodeNotFound, format, args...) }

func precondition(format string, args ...any) *Error {
	return errorf(CodePreconditionFailed, format, args...)
}

func invalidPhase(got, want Phase) *Error {
	return errorf(CodeInvalidPhase, "phase is %s, action requires %s", got, want)
}

// CodeOf extracts the domain code from err, or "" for infrastructure errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
