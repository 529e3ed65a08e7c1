// Package storyerr defines the typed error vocabulary shared across the
// engine. Every component-level error wraps one of the Kind values so that
// the HTTP surface can map it to a status code without inspecting strings.
package storyerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies the category of a engine error.
type Kind string

const (
	KindSchema            Kind = "schema"
	KindNotFound          Kind = "not_found"
	KindExpression        Kind = "expression"
	KindAdapterTimeout    Kind = "adapter_timeout"
	KindAdapterUnavailable Kind = "adapter_unavailable"
	KindAdapterProtocol   Kind = "adapter_protocol"
	KindStateConflict     Kind = "state_conflict"
	KindRoundBlocked      Kind = "round_blocked"
	KindQueueUnavailable  Kind = "queue_unavailable"
	KindInternal          Kind = "internal"
)

// statusByKind maps each Kind to the HTTP status spec.md §6.1/§7 assigns it.
var statusByKind = map[Kind]int{
	KindSchema:             http.StatusBadRequest,
	KindNotFound:           http.StatusNotFound,
	KindExpression:         http.StatusBadRequest,
	KindAdapterTimeout:     http.StatusInternalServerError,
	KindAdapterUnavailable: http.StatusInternalServerError,
	KindAdapterProtocol:    http.StatusInternalServerError,
	KindStateConflict:      http.StatusInternalServerError,
	KindRoundBlocked:       http.StatusConflict,
	KindQueueUnavailable:   http.StatusInternalServerError,
	KindInternal:           http.StatusInternalServerError,
}

// Error is a Kind-tagged error that wraps an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus returns the status code this error maps to.
func (e *Error) HTTPStatus() int {
	if status, ok := statusByKind[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind around a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatusFor maps any error to an HTTP status, defaulting to 500 for
// errors that are not *Error.
func HTTPStatusFor(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}
