// Package bkerr defines the sentinel error kinds the broker maps onto HTTP
// status codes at the edge, per the error handling design.
package bkerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the well-known ways a client-facing request can fail.
type Kind int

const (
	// KindBadRequest maps to 400: an empty or malformed publish body.
	KindBadRequest Kind = iota
	// KindForbidden maps to 403: a hook rejected the request.
	KindForbidden
	// KindPayloadTooLarge maps to 413: the request body exceeded --max-body-size.
	KindPayloadTooLarge
	// KindUnsupportedMedia maps to 415: an unrecognized Content-Type.
	KindUnsupportedMedia
	// KindMethodNotAllowed maps to 405.
	KindMethodNotAllowed
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindForbidden:
		return "forbidden"
	case KindPayloadTooLarge:
		return "payload_too_large"
	case KindUnsupportedMedia:
		return "unsupported_media_type"
	case KindMethodNotAllowed:
		return "method_not_allowed"
	default:
		return "unknown"
	}
}

// Status returns the HTTP status code a Kind maps to.
func (k Kind) Status() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindUnsupportedMedia:
		return http.StatusUnsupportedMediaType
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}

// Error is a client-facing error carrying a Kind and a human-readable reason.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind with a formatted reason.
func New(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Reason: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind wrapping an underlying cause.
func Wrap(k Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: k, Reason: fmt.Sprintf(format, args...), Err: err}
}

// StatusFor extracts an HTTP status code from err, defaulting to 500 for
// anything that isn't a *Error.
func StatusFor(err error) int {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind.Status()
	}
	return http.StatusInternalServerError
}
