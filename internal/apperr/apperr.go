// Package apperr models the service's error taxonomy as result values
// instead of exceptions. Every non-2xx HTTP response in internal/httpserver
// renders from one of these codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is one entry in the closed error taxonomy.
type Code string

const (
	BadInput        Code = "bad-input"
	NotFound        Code = "not-found"
	AlreadyExists   Code = "already-exists"
	RejectedBySafety Code = "rejected-by-safety"
	RateLimited     Code = "rate-limited"
	UpstreamTimeout Code = "upstream-timeout"
	UpstreamFailure Code = "upstream-failure"
	StorageFailure  Code = "storage-failure"
	Internal        Code = "internal"
)

// status maps each taxonomy code to its default HTTP status.
var status = map[Code]int{
	BadInput:         http.StatusBadRequest,
	NotFound:         http.StatusNotFound,
	AlreadyExists:    http.StatusConflict,
	RejectedBySafety: http.StatusOK,
	RateLimited:      http.StatusTooManyRequests,
	UpstreamTimeout:  http.StatusGatewayTimeout,
	UpstreamFailure:  http.StatusBadGateway,
	StorageFailure:   http.StatusInternalServerError,
	Internal:         http.StatusInternalServerError,
}

// Error is the concrete error value carried through the pipeline. Handlers
// short-circuit on the first Error and render it via the common envelope.
type Error struct {
	Code    Code
	Message string
	Details any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Status returns the HTTP status code for this error.
func (e *Error) Status() int {
	if s, ok := status[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New builds an Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an Error that wraps an underlying cause for logging, without
// leaking internal details to the client.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// As extracts an *Error from err, if any wraps one.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Classify returns the *Error for err, defaulting to Internal for anything
// unclassified, so callers always get a complete trace for debugging.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	return Wrap(Internal, "internal error", err)
}
