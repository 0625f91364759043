package domain

import (
	"fmt"
	"net/http"
)

// ErrorType represents the category of an API error.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates a malformed or invalid request.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeGuardrail indicates a submission exceeded a configured
	// size limit and was rejected before any processing.
	ErrorTypeGuardrail ErrorType = "guardrail_exceeded"

	// ErrorTypeEvidenceBinding indicates evidence could not be bound to
	// decisions (evidence without a target, or ambiguous counts).
	ErrorTypeEvidenceBinding ErrorType = "evidence_binding"

	// ErrorTypeNotFound indicates a referenced run or step does not exist.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeServer indicates an internal server error.
	ErrorTypeServer ErrorType = "server"
)

// APIError is the canonical error returned across the service boundary.
// Handlers translate it to a JSON error body with the mapped status code.
type APIError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`

	// StatusCode overrides the default mapping when non-zero.
	StatusCode int `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// HTTPStatusCode returns the HTTP status code for this error.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeInvalidRequest, ErrorTypeEvidenceBinding:
		return http.StatusBadRequest
	case ErrorTypeGuardrail:
		return http.StatusRequestEntityTooLarge
	case ErrorTypeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// NewAPIError creates a new API error.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{Type: errType, Message: message}
}

// ErrInvalidRequest creates an invalid request error.
func ErrInvalidRequest(format string, args ...any) *APIError {
	return NewAPIError(ErrorTypeInvalidRequest, fmt.Sprintf(format, args...))
}

// ErrGuardrail creates a guardrail-exceeded error.
func ErrGuardrail(format string, args ...any) *APIError {
	return NewAPIError(ErrorTypeGuardrail, fmt.Sprintf(format, args...))
}

// ErrEvidenceBinding creates an evidence binding error.
func ErrEvidenceBinding(format string, args ...any) *APIError {
	return NewAPIError(ErrorTypeEvidenceBinding, fmt.Sprintf(format, args...))
}

// ErrNotFound creates a not found error.
func ErrNotFound(format string, args ...any) *APIError {
	return NewAPIError(ErrorTypeNotFound, fmt.Sprintf(format, args...))
}

// ErrServer creates an internal server error.
func ErrServer(format string, args ...any) *APIError {
	return NewAPIError(ErrorTypeServer, fmt.Sprintf(format, args...))
}
