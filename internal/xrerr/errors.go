// Package xrerr defines the error taxonomy surfaced by the XR runtime.
package xrerr

import (
	"errors"
	"fmt"
)

// Code categorizes runtime errors.
type Code string

const (
	// InvalidState: inactive frame, ended session, deleted anchor, re-entrant
	// restore, or a graph operation that would break an invariant.
	InvalidState Code = "INVALID_STATE"

	// NotSupported: unsupported mode or feature, or a capability with no
	// backing provider.
	NotSupported Code = "NOT_SUPPORTED"

	// OutOfRange: an input value outside its allowed domain.
	OutOfRange Code = "OUT_OF_RANGE"

	// TransientIO: a recoverable I/O failure such as an image encode error.
	TransientIO Code = "TRANSIENT_IO"

	// BridgeUnavailable: the native sensor bridge is gone.
	BridgeUnavailable Code = "BRIDGE_UNAVAILABLE"
)

// Error is a runtime error with a category and the operation that raised it.
type Error struct {
	Code    Code
	Op      string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Op, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error.
func New(code Code, op, message string) *Error {
	return &Error{Code: code, Op: op, Message: message}
}

// Wrap creates an Error around a cause.
func Wrap(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf returns the category of err, or "" when err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given code.
// Uses errors.As to handle wrapped errors.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsInvalidState returns true for InvalidState errors.
func IsInvalidState(err error) bool { return Is(err, InvalidState) }

// IsNotSupported returns true for NotSupported errors.
func IsNotSupported(err error) bool { return Is(err, NotSupported) }

// IsOutOfRange returns true for OutOfRange errors.
func IsOutOfRange(err error) bool { return Is(err, OutOfRange) }

// IsTransientIO returns true for TransientIO errors.
func IsTransientIO(err error) bool { return Is(err, TransientIO) }

// IsBridgeUnavailable returns true for BridgeUnavailable errors.
func IsBridgeUnavailable(err error) bool { return Is(err, BridgeUnavailable) }
