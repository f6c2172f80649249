// Package controlerr defines the closed error taxonomy shared by every
// control-plane component. Components return *Error; the HTTP surface is
// the only place that maps a Kind to a status code.
package controlerr

import (
	"errors"
	"fmt"
)

// Kind is a closed enum of error categories (spec §7).
type Kind string

const (
	ValidationError    Kind = "validation_error"
	Unauthorized       Kind = "unauthorized"
	Forbidden          Kind = "forbidden"
	NotFound           Kind = "not_found"
	Conflict           Kind = "conflict"
	QuotaExceeded      Kind = "quota_exceeded"
	RateLimited        Kind = "rate_limited"
	ServiceUnavailable Kind = "service_unavailable"
	InternalError      Kind = "internal_error"
)

// Error is the structured error type returned across component boundaries.
type Error struct {
	Kind    Kind
	Message string
	// Fields carries structured detail: offending field names for
	// ValidationError, the missing permission tag for Forbidden, the
	// exceeded dimension and retry-after hint for QuotaExceeded, etc.
	Fields map[string]string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithField attaches a structured detail field and returns the receiver.
func (e *Error) WithField(key, value string) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]string, 1)
	}
	e.Fields[key] = value
	return e
}

// Is reports whether err is (or wraps) a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err, or InternalError if err is not a *Error.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return InternalError
}
