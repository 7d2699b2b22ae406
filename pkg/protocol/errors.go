package protocol

import (
	"errors"
	"fmt"
)

// Code is a stable numeric error code carried in a Result.
// Codes are part of the wire contract and are never renumbered.
type Code uint32

const (
	// CodeOK is the zero value and means the call succeeded.
	CodeOK Code = 0

	CodeInvalidArgument   Code = 10000
	CodeInternal          Code = 10001
	CodeMemoryOutOfBounds Code = 10002
	CodeTimeout           Code = 10003
	CodeUnknownCallKind   Code = 10004
	CodeModuleNotReady    Code = 10005
)

// String returns the taxonomy name of the code.
func (c Code) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeInvalidArgument:
		return "InvalidArgument"
	case CodeInternal:
		return "InternalError"
	case CodeMemoryOutOfBounds:
		return "MemoryOutOfBounds"
	case CodeTimeout:
		return "Timeout"
	case CodeUnknownCallKind:
		return "UnknownCallKind"
	case CodeModuleNotReady:
		return "ModuleNotReady"
	default:
		return fmt.Sprintf("Code(%d)", uint32(c))
	}
}

func (c Code) prefix() string {
	switch c {
	case CodeInvalidArgument:
		return "Invalid argument"
	case CodeInternal:
		return "Internal error"
	case CodeMemoryOutOfBounds:
		return "MemoryOutOfBounds error"
	case CodeTimeout:
		return "Timeout error"
	case CodeUnknownCallKind:
		return "Unknown call kind"
	case CodeModuleNotReady:
		return "Module not ready"
	default:
		return c.String()
	}
}

// Error is a host error that crosses the guest boundary as a failed Result.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Cause != nil {
		if msg == "" {
			msg = e.Cause.Error()
		} else {
			msg = fmt.Sprintf("%s: %v", msg, e.Cause)
		}
	}
	if msg == "" {
		return e.Code.prefix()
	}
	return fmt.Sprintf("%s: %s", e.Code.prefix(), msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code, so the sentinels below work
// with errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Sentinels for errors.Is.
var (
	ErrInvalidArgument   = &Error{Code: CodeInvalidArgument}
	ErrInternal          = &Error{Code: CodeInternal}
	ErrMemoryOutOfBounds = &Error{Code: CodeMemoryOutOfBounds}
	ErrTimeout           = &Error{Code: CodeTimeout}
	ErrUnknownCallKind   = &Error{Code: CodeUnknownCallKind}
	ErrModuleNotReady    = &Error{Code: CodeModuleNotReady}
)

// NewError creates an *Error with a formatted message.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates an *Error whose message retains the cause text.
func WrapError(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// InvalidArgument reports caller data that violates a handler precondition.
func InvalidArgument(format string, args ...any) *Error {
	return NewError(CodeInvalidArgument, format, args...)
}

// Internal reports an unexpected failure inside the host.
func Internal(format string, args ...any) *Error {
	return NewError(CodeInternal, format, args...)
}

// AsError converts any error into an *Error. Errors that already carry a
// code keep it; everything else becomes an InternalError wrapping the cause.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: CodeInternal, Cause: err}
}

// DecodeError occurs when bytes do not match the expected message schema.
type DecodeError struct {
	Message string
	Field   string
	Err     error
}

func (e *DecodeError) Error() string {
	s := "decode " + e.Message
	if e.Field != "" {
		s += " (field " + e.Field + ")"
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
