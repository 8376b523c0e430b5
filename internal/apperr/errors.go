// Package apperr defines the error taxonomy shared by the workflow, approval
// and notification components. Handlers translate a Kind into an HTTP status;
// the components themselves never deal with transport concerns.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error
type Kind string

const (
	KindUnauthorized      Kind = "UNAUTHORIZED"
	KindPermissionDenied  Kind = "PERMISSION_DENIED"
	KindNotFound          Kind = "NOT_FOUND"
	KindInvalidState      Kind = "INVALID_STATE"
	KindValidation        Kind = "VALIDATION"
	KindTransientDelivery Kind = "TRANSIENT_DELIVERY"
	KindFatalWorkflow     Kind = "FATAL_WORKFLOW"
	KindInternal          Kind = "INTERNAL"
)

// Sentinels usable with errors.Is
var (
	ErrUnauthorized      = &Error{Kind: KindUnauthorized}
	ErrPermissionDenied  = &Error{Kind: KindPermissionDenied}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInvalidState      = &Error{Kind: KindInvalidState}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrTransientDelivery = &Error{Kind: KindTransientDelivery}
	ErrFatalWorkflow     = &Error{Kind: KindFatalWorkflow}
)

// Error is a classified application error
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so that wrapped errors match the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Unauthorized is returned when no valid session is present
func Unauthorized(format string, args ...any) error {
	return newf(KindUnauthorized, format, args...)
}

// PermissionDenied is returned when the session lacks a capability
func PermissionDenied(format string, args ...any) error {
	return newf(KindPermissionDenied, format, args...)
}

// NotFound is returned for missing records and tenant mismatches
func NotFound(format string, args ...any) error {
	return newf(KindNotFound, format, args...)
}

// InvalidState is returned when an operation is illegal in the current lifecycle state
func InvalidState(format string, args ...any) error {
	return newf(KindInvalidState, format, args...)
}

// Validation is returned for malformed input
func Validation(format string, args ...any) error {
	return newf(KindValidation, format, args...)
}

// TransientDelivery wraps a retryable send failure
func TransientDelivery(err error) error {
	return &Error{Kind: KindTransientDelivery, Message: "delivery failed", Err: err}
}

// FatalWorkflow wraps an action failure that aborts an execution
func FatalWorkflow(err error, format string, args ...any) error {
	return &Error{Kind: KindFatalWorkflow, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or KindInternal for unclassified errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error to the status code route handlers respond with
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidState:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	case KindTransientDelivery:
		return http.StatusBadGateway
	case KindFatalWorkflow:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
