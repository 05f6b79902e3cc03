// Package apperr defines the error kinds surfaced to API clients.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindUnauthenticated     Kind = "unauthenticated"
	KindForbidden           Kind = "forbidden"
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindValidation          Kind = "validation_error"
	KindExpired             Kind = "expired"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindUpstreamError       Kind = "upstream_error"
	KindRateLimited         Kind = "rate_limited"
	KindInternal            Kind = "internal_error"
)

// Error carries a Kind plus a client-safe message. Err, when set, holds the
// underlying cause for logging and is never rendered to clients.
type Error struct {
	Kind    Kind
	Message string
	Err     error
	// Timeout is set on KindUpstreamUnavailable when the responder did not
	// answer in time, as opposed to a transport failure.
	Timeout bool
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Unauthenticated(message string) *Error { return New(KindUnauthenticated, message) }
func Forbidden(message string) *Error       { return New(KindForbidden, message) }
func NotFound(message string) *Error        { return New(KindNotFound, message) }
func Conflict(message string) *Error        { return New(KindConflict, message) }
func Validation(message string) *Error      { return New(KindValidation, message) }
func Expired(message string) *Error         { return New(KindExpired, message) }
func RateLimited(message string) *Error     { return New(KindRateLimited, message) }

func Internal(err error) *Error {
	return Wrap(KindInternal, "An internal error occurred", err)
}

// KindOf reports the Kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
