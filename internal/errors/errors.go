package errors

import (
	"fmt"
)

// InkError is the structured error type for inkwell.
// It provides rich context for error handling, logging, and API responses.
type InkError struct {
	// Code is the unique error code (e.g., "ERR_201_PROJECT_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Validation, NotFound, Backend, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *InkError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *InkError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with InkError.
func (e *InkError) Is(target error) bool {
	if t, ok := target.(*InkError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *InkError) WithDetail(key, value string) *InkError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *InkError) WithSuggestion(suggestion string) *InkError {
	e.Suggestion = suggestion
	return e
}

// New creates a new InkError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *InkError {
	return &InkError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an InkError from an existing error.
// The error's message becomes the InkError message.
func Wrap(code string, err error) *InkError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ValidationError creates an input validation error.
func ValidationError(message string, cause error) *InkError {
	return New(ErrCodeInvalidInput, message, cause)
}

// NotFoundError creates a not-found error for the given entity.
func NotFoundError(code string, entity, id string) *InkError {
	return New(code, fmt.Sprintf("%s not found: %s", entity, id), nil).
		WithDetail("entity", entity).
		WithDetail("id", id)
}

// PreconditionError creates an error for a valid request in the wrong state.
func PreconditionError(code string, message string) *InkError {
	return New(code, message, nil)
}

// StorageError creates a database or index storage error.
func StorageError(message string, cause error) *InkError {
	return New(ErrCodeStoreFailed, message, cause)
}

// BackendError creates a model backend error.
// Backend timeouts and unavailability are retryable.
func BackendError(code string, message string, cause error) *InkError {
	return New(code, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *InkError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is an InkError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ie, ok := err.(*InkError); ok {
		return ie.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if ie, ok := err.(*InkError); ok {
		return ie.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from an InkError.
// Returns empty string if not an InkError.
func GetCode(err error) string {
	if ie, ok := err.(*InkError); ok {
		return ie.Code
	}
	return ""
}

// GetCategory extracts the category from an InkError.
// Returns empty string if not an InkError.
func GetCategory(err error) Category {
	if ie, ok := err.(*InkError); ok {
		return ie.Category
	}
	return ""
}
