package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different types of errors in the system
type ErrorType string

const (
	// ErrorTypeValidation indicates bad user input; the caller re-prompts
	ErrorTypeValidation ErrorType = "VALIDATION"

	// ErrorTypeGeneration indicates the AI adapter returned unusable output
	// after its retries
	ErrorTypeGeneration ErrorType = "GENERATION"

	// ErrorTypeEmptyResult indicates zero clinics matched a directory query
	ErrorTypeEmptyResult ErrorType = "EMPTY_RESULT"

	// ErrorTypeEnrichmentUnavailable indicates a per-clinic specialist
	// lookup failed
	ErrorTypeEnrichmentUnavailable ErrorType = "ENRICHMENT_UNAVAILABLE"

	// ErrorTypeSessionLost indicates a resumption token without matching
	// workflow state
	ErrorTypeSessionLost ErrorType = "SESSION_LOST"

	// ErrorTypeNotFound indicates a resource was not found
	ErrorTypeNotFound ErrorType = "NOT_FOUND"

	// ErrorTypeInternal indicates an internal server error
	ErrorTypeInternal ErrorType = "INTERNAL"

	// ErrorTypeExternal indicates an error from an external service
	ErrorTypeExternal ErrorType = "EXTERNAL"
)

// AppError represents an application error
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the unwrap interface
func (e *AppError) Unwrap() error {
	return e.Err
}

// IsType reports whether err is an AppError of the given type
func IsType(err error, t ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == t
	}
	return false
}

// NewValidationError creates a new validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeValidation,
		Message: message,
	}
}

// NewGenerationError creates a new generation error
func NewGenerationError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeGeneration,
		Message: message,
		Err:     err,
	}
}

// NewEmptyResultError creates a new empty result error
func NewEmptyResultError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeEmptyResult,
		Message: message,
	}
}

// NewEnrichmentUnavailableError creates a new enrichment unavailable error
func NewEnrichmentUnavailableError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeEnrichmentUnavailable,
		Message: message,
		Err:     err,
	}
}

// NewSessionLostError creates a new session lost error
func NewSessionLostError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeSessionLost,
		Message: message,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeInternal,
		Message: message,
		Err:     err,
	}
}

// NewExternalError creates a new external service error
func NewExternalError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeExternal,
		Message: message,
		Err:     err,
	}
}
