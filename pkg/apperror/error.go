// Package apperror defines the application error taxonomy and its HTTP
// mapping. Services return *Error values; the echo error handler turns
// them into the wire format.
package apperror

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Error represents an application error with HTTP status and error code
type Error struct {
	HTTPStatus int
	Code       string
	Message    string
	Internal   error
	Details    map[string]any
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the internal error
func (e *Error) Unwrap() error {
	return e.Internal
}

// ToEchoError converts the app error to an echo.HTTPError
func (e *Error) ToEchoError() *echo.HTTPError {
	errBody := map[string]any{
		"code":    e.Code,
		"message": e.Message,
	}
	if len(e.Details) > 0 {
		errBody["details"] = e.Details
	}
	return echo.NewHTTPError(e.HTTPStatus, map[string]any{
		"error": errBody,
	})
}

// WithInternal returns a copy of the error with an internal error attached
func (e *Error) WithInternal(err error) *Error {
	return &Error{
		HTTPStatus: e.HTTPStatus,
		Code:       e.Code,
		Message:    e.Message,
		Internal:   err,
		Details:    e.Details,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *Error) WithMessage(message string) *Error {
	return &Error{
		HTTPStatus: e.HTTPStatus,
		Code:       e.Code,
		Message:    message,
		Internal:   e.Internal,
		Details:    e.Details,
	}
}

// WithDetails returns a copy of the error with details attached
func (e *Error) WithDetails(details map[string]any) *Error {
	return &Error{
		HTTPStatus: e.HTTPStatus,
		Code:       e.Code,
		Message:    e.Message,
		Internal:   e.Internal,
		Details:    details,
	}
}

// New creates a new application error
func New(status int, code, message string) *Error {
	return &Error{
		HTTPStatus: status,
		Code:       code,
		Message:    message,
	}
}

// Common error definitions
var (
	// Authentication errors
	ErrUnauthorized = New(http.StatusUnauthorized, "unauthorized", "Authentication required")
	ErrInvalidToken = New(http.StatusUnauthorized, "invalid_token", "Invalid or expired token")
	ErrMissingToken = New(http.StatusUnauthorized, "missing_token", "Missing authorization token")

	// Resource errors. Ownership mismatches also map to not_found so
	// callers cannot probe for the existence of other tenants' jobs.
	ErrNotFound        = New(http.StatusNotFound, "not_found", "Resource not found")
	ErrJobNotFound     = New(http.StatusNotFound, "job_not_found", "Job not found")
	ErrProjectNotFound = New(http.StatusNotFound, "project_not_found", "Project not found")
	ErrUserNotFound    = New(http.StatusNotFound, "user_not_found", "User not found")
	ErrConflict        = New(http.StatusConflict, "conflict", "Resource already exists")

	// Validation errors
	ErrBadRequest   = New(http.StatusBadRequest, "bad_request", "Invalid request")
	ErrInvalidState = New(http.StatusBadRequest, "invalid_state", "Operation not valid in the current state")

	// Quota errors
	ErrQuotaExceeded = New(http.StatusTooManyRequests, "quota_exceeded", "Tier quota exceeded")

	// Dependency errors (task queue, object store, auth service)
	ErrDependency = New(http.StatusBadGateway, "dependency_error", "External dependency unavailable")

	// Server errors
	ErrInternal = New(http.StatusInternalServerError, "internal_error", "An internal error occurred")
	ErrDatabase = New(http.StatusInternalServerError, "database_error", "Database operation failed")
)

// NewBadRequest creates a bad request error with a custom message
func NewBadRequest(message string) *Error {
	return ErrBadRequest.WithMessage(message)
}

// NewNotFound creates a not found error for a resource type and ID
func NewNotFound(resourceType, id string) *Error {
	return ErrNotFound.WithMessage(fmt.Sprintf("%s '%s' not found", resourceType, id))
}

// NewInvalidState creates an invalid state transition error
func NewInvalidState(message string) *Error {
	return ErrInvalidState.WithMessage(message)
}

// NewQuotaExceeded creates a structured quota violation error naming the
// tier, the limit that was hit and the current usage.
func NewQuotaExceeded(tier, limitName string, limitValue, currentValue int) *Error {
	return ErrQuotaExceeded.
		WithMessage(fmt.Sprintf("Tier '%s' limit '%s' exceeded (%d/%d)", tier, limitName, currentValue, limitValue)).
		WithDetails(map[string]any{
			"tier":         tier,
			"limit":        limitName,
			"limitValue":   limitValue,
			"currentValue": currentValue,
		})
}

// NewDependency creates a dependency error with a message and wrapped cause
func NewDependency(message string, err error) *Error {
	return &Error{
		HTTPStatus: http.StatusBadGateway,
		Code:       "dependency_error",
		Message:    message,
		Internal:   err,
	}
}

// NewInternal creates an internal error with a message and optional wrapped error
func NewInternal(message string, err error) *Error {
	return &Error{
		HTTPStatus: http.StatusInternalServerError,
		Code:       "internal_error",
		Message:    message,
		Internal:   err,
	}
}
