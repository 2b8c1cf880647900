package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Domain errors - these represent business rule violations
var (
	// Authentication & Authorization
	ErrForbidden    = errors.New("action forbidden")
	ErrUnauthorized = errors.New("unauthorized")

	// Notification validation
	ErrNotificationNotFound    = errors.New("notification not found")
	ErrInvalidNotificationType = errors.New("invalid notification type")
	ErrInvalidPriority         = errors.New("invalid notification priority")
	ErrInvalidChangeType       = errors.New("invalid reservation change type")

	// Connection / room validation
	ErrStaffNotFound      = errors.New("staff not found or inactive")
	ErrTenantRequired     = errors.New("tenant ID is required")
	ErrTenantMismatch     = errors.New("tenant does not match credentials")
	ErrConnectionNotFound = errors.New("connection not found")

	// Storage
	ErrPersistence = errors.New("persistence failure")

	// Generic
	ErrNotFound    = errors.New("resource not found")
	ErrInternal    = errors.New("internal server error")
	ErrBadRequest  = errors.New("bad request")
	ErrRateLimited = errors.New("rate limit exceeded")
)

// AppError wraps errors with additional context for HTTP responses
type AppError struct {
	Err        error  // The underlying error
	Message    string // User-friendly message
	Code       string // Machine-readable error code
	StatusCode int    // HTTP status code
	Details    map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Error constructors for common cases
func NewBadRequestError(err error, message string) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "BAD_REQUEST",
		StatusCode: 400,
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Err:        ErrUnauthorized,
		Message:    message,
		Code:       "UNAUTHORIZED",
		StatusCode: 401,
	}
}

func NewNotFoundError(err error, message string) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "NOT_FOUND",
		StatusCode: 404,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Err:        err,
		Message:    "An unexpected error occurred",
		Code:       "INTERNAL_ERROR",
		StatusCode: 500,
	}
}

// Persistence wraps a storage failure so callers can match ErrPersistence
// while keeping the driver error in the chain.
func Persistence(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// ValidationErrors holds multiple field validation errors
type ValidationErrors struct {
	Errors map[string][]string `json:"errors"`
}

func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{
		Errors: make(map[string][]string),
	}
}

func (v *ValidationErrors) Add(field, message string) {
	v.Errors[field] = append(v.Errors[field], message)
}

func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Fields returns the names of the invalid fields in sorted order.
func (v *ValidationErrors) Fields() []string {
	fields := make([]string, 0, len(v.Errors))
	for field := range v.Errors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// Summary joins every violation into a single line, e.g. for websocket error events.
func (v *ValidationErrors) Summary() string {
	parts := make([]string, 0, len(v.Errors))
	for _, field := range v.Fields() {
		parts = append(parts, field+": "+strings.Join(v.Errors[field], "; "))
	}
	return strings.Join(parts, ", ")
}

func (v *ValidationErrors) Error() string {
	return fmt.Sprintf("validation failed: %d field(s) have errors", len(v.Errors))
}

// IsValidation reports whether err carries field validation errors.
func IsValidation(err error) bool {
	var v *ValidationErrors
	return errors.As(err, &v)
}
