// Package apierr defines the error taxonomy shared across the service: a
// small set of logical kinds, each mapped to one HTTP status and one wire
// code, so every package can return the same *Error type and the gateway's
// error handler does the mapping in one place.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind is a logical error category, independent of transport.
type Kind string

const (
	KindBadRequest       Kind = "bad_request"
	KindUnauthorized     Kind = "unauthorized"
	KindForbidden        Kind = "forbidden"
	KindNotFound         Kind = "not_found"
	KindMethodNotAllowed Kind = "method_not_allowed"
	KindPayloadTooLarge  Kind = "payload_too_large"
	KindRateLimited      Kind = "rate_limited"
	KindInternal         Kind = "internal_error"
	KindMissingBinding   Kind = "missing_binding"
	KindUpstreamError    Kind = "upstream_error"
	KindUpstreamTimeout  Kind = "upstream_timeout"
)

var statusByKind = map[Kind]int{
	KindBadRequest:       http.StatusBadRequest,
	KindUnauthorized:     http.StatusUnauthorized,
	KindForbidden:        http.StatusForbidden,
	KindNotFound:         http.StatusNotFound,
	KindMethodNotAllowed: http.StatusMethodNotAllowed,
	KindPayloadTooLarge:  http.StatusRequestEntityTooLarge,
	KindRateLimited:      http.StatusTooManyRequests,
	KindInternal:         http.StatusInternalServerError,
	KindMissingBinding:   http.StatusInternalServerError,
	KindUpstreamError:    http.StatusBadGateway,
	KindUpstreamTimeout:  http.StatusGatewayTimeout,
}

// Error is the one error type every layer of this service returns for
// anything that should become a structured HTTP error response.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration // set only for KindRateLimited
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Status returns the HTTP status code for this error's kind.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New builds an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error that carries err as its cause, preserving it for
// errors.Is/errors.As and logging while presenting a stable client message.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, cause: err}
}

// RateLimited builds a KindRateLimited error carrying the retry-after
// duration the client should honor.
func RateLimited(retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Message: "rate limit exceeded", RetryAfter: retryAfter}
}

// As reports whether err (or something it wraps) is an *Error, returning it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, else
// KindInternal.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}
