package apierror

import (
	"net/http"
	"strings"
)

// Error is the error object carried in every failed response.
type Error struct {
	StatusCode int          `json:"-"`
	Code       string       `json:"code"`
	Message    string       `json:"message"`
	Details    []FieldError `json:"details,omitempty"`
}

// FieldError names one invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

// WithDetails replaces the field details.
func (e *Error) WithDetails(details ...FieldError) *Error {
	e.Details = details
	return e
}

// Summary is the message followed by every field detail, on one line.
func (e *Error) Summary() string {
	var b strings.Builder
	b.WriteString(e.Message)
	for _, d := range e.Details {
		b.WriteString("; ")
		b.WriteString(d.Field)
		b.WriteString(": ")
		b.WriteString(d.Message)
	}
	return b.String()
}

func newError(status int, code, message, fallback string) *Error {
	if message == "" {
		message = fallback
	}
	return &Error{StatusCode: status, Code: code, Message: message}
}

// BadRequest is a 400 for a body that could not be read or decoded.
func BadRequest(message string) *Error {
	return newError(http.StatusBadRequest, "BAD_REQUEST", message, "Malformed request")
}

// ValidationError is a 400 listing the offending fields.
func ValidationError(message string, details ...FieldError) *Error {
	return newError(http.StatusBadRequest, "VALIDATION_ERROR", message, "Validation failed").WithDetails(details...)
}

func Unauthorized(message string) *Error {
	return newError(http.StatusUnauthorized, "UNAUTHORIZED", message, "Authentication required")
}

func Forbidden(message string) *Error {
	return newError(http.StatusForbidden, "FORBIDDEN", message, "Access denied")
}

func NotFound(message string) *Error {
	return newError(http.StatusNotFound, "NOT_FOUND", message, "Resource not found")
}

func Conflict(message string) *Error {
	return newError(http.StatusConflict, "CONFLICT", message, "Conflicting state")
}

// InvalidOperation is a 422 for a well-formed request that breaks a
// business rule, such as selling stock that is not there.
func InvalidOperation(message string) *Error {
	return newError(http.StatusUnprocessableEntity, "INVALID_OPERATION", message, "Operation not allowed")
}

func TooManyRequests(message string) *Error {
	return newError(http.StatusTooManyRequests, "RATE_LIMITED", message, "Rate limit exceeded")
}

func InternalError(message string) *Error {
	return newError(http.StatusInternalServerError, "INTERNAL_ERROR", message, "An unexpected error occurred")
}

func ServiceUnavailable(message string) *Error {
	return newError(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", message, "Service temporarily unavailable")
}
