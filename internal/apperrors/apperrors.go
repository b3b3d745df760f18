// Package apperrors defines the error taxonomy shared by the broker services.
// Every failure surfaced to the conversation layer or the HTTP API carries a
// Kind, so callers can decide what to show without inspecting messages.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"

	"gorm.io/gorm"
)

// Kind classifies a failure.
type Kind string

const (
	KindValidation    Kind = "VALIDATION_FAILED"
	KindNotFound      Kind = "NOT_FOUND"
	KindAuthorization Kind = "FORBIDDEN"
	KindConflict      Kind = "CONFLICT"
	KindUnavailable   Kind = "UNAVAILABLE"
	KindInternal      Kind = "INTERNAL_ERROR"
)

// Error is the single error type returned by the services.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, message string, details map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

func Validation(message string, details map[string]any) error {
	return newError(KindValidation, message, details)
}

// NotFound builds a "<resource> not found" error.
func NotFound(resource string, details map[string]any) error {
	return newError(KindNotFound, resource+" not found", details)
}

func Unauthorized(message string, details map[string]any) error {
	return newError(KindAuthorization, message, details)
}

func Conflict(message string, details map[string]any) error {
	return newError(KindConflict, message, details)
}

func Unavailable(message string, details map[string]any) error {
	return newError(KindUnavailable, message, details)
}

// Internal wraps an unexpected failure. The cause is kept for logging but is
// never rendered to end users.
func Internal(err error) error {
	return &Error{Kind: KindInternal, Message: "internal error", Err: err}
}

// KindOf reports the kind of err, KindInternal for foreign errors and "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// FromStore converts persistence errors into the taxonomy. resource names the
// entity for not-found messages.
func FromStore(err error, resource string, details map[string]any) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return NotFound(resource, details)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return &Error{Kind: KindConflict, Message: resource + " already exists", Details: details, Err: err}
	}
	return Internal(err)
}

// As extracts the *Error from err, wrapping foreign errors as internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return &Error{Kind: KindInternal, Message: "internal error", Err: err}
}

// HTTPStatus maps a kind onto a response status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAuthorization:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
