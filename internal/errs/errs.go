// Package errs defines the error kinds returned by the verification core.
// Callers map kinds to transport status codes with Status.
package errs

import (
	"errors"
	"net/http"
)

// Kind classifies a failure.
type Kind string

const (
	NotFound         Kind = "not_found"
	Forbidden        Kind = "forbidden"
	InvalidSignature Kind = "invalid_signature"
	InvalidInput     Kind = "invalid_input"
	Expired          Kind = "expired"
	AttemptsExceeded Kind = "attempts_exceeded"
	RateLimited      Kind = "rate_limited"
	DeliveryFailed   Kind = "delivery_failed"
	Internal         Kind = "internal"
)

// Error is a classified failure with a client-safe message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error of the given kind that wraps err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err, or Internal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the client-safe message of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// Status maps a kind to its HTTP status code.
func Status(kind Kind) int {
	switch kind {
	case NotFound:
		return http.StatusNotFound
	case Forbidden:
		return http.StatusForbidden
	case InvalidSignature, InvalidInput:
		return http.StatusBadRequest
	case Expired:
		return http.StatusGone
	case AttemptsExceeded, RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
