package errors

import (
	"fmt"
)

// KnosiError is the structured error type for knosid.
// It provides rich context for error handling, logging, and API responses.
type KnosiError struct {
	// Code is the unique error code (e.g., "ERR_202_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Storage, Capability, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *KnosiError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *KnosiError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with KnosiError.
func (e *KnosiError) Is(target error) bool {
	if t, ok := target.(*KnosiError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *KnosiError) WithDetail(key, value string) *KnosiError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new KnosiError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *KnosiError {
	return &KnosiError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a KnosiError from an existing error.
// The error's message becomes the KnosiError message.
func Wrap(code string, err error) *KnosiError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// UnsupportedType reports a file type with no registered extractor.
func UnsupportedType(ext string) *KnosiError {
	return New(ErrCodeUnsupportedType, fmt.Sprintf("unsupported file type: %s", ext), nil).
		WithDetail("extension", ext)
}

// ExtractionFailed reports a failure to derive text from a document.
func ExtractionFailed(name string, cause error) *KnosiError {
	return New(ErrCodeExtractionFailed, fmt.Sprintf("failed to extract text from %s", name), cause).
		WithDetail("file", name)
}

// EmptyDocument reports a document that yielded no indexable content.
func EmptyDocument(name string) *KnosiError {
	return New(ErrCodeEmptyDocument, fmt.Sprintf("no indexable content in %s", name), nil).
		WithDetail("file", name)
}

// NotFound reports a missing document.
func NotFound(path string) *KnosiError {
	return New(ErrCodeNotFound, fmt.Sprintf("document not found: %s", path), nil).
		WithDetail("path", path)
}

// StorageUnavailable reports a persistence-layer failure.
func StorageUnavailable(message string, cause error) *KnosiError {
	return New(ErrCodeStorageUnavailable, message, cause)
}

// GenerationFailed reports a language-model capability failure.
func GenerationFailed(cause error) *KnosiError {
	return Wrap(ErrCodeGenerationFailed, cause)
}

// EmbeddingFailed reports an embedding capability failure.
func EmbeddingFailed(cause error) *KnosiError {
	return Wrap(ErrCodeEmbeddingFailed, cause)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *KnosiError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates an input validation error.
func ValidationError(message string, cause error) *KnosiError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *KnosiError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a KnosiError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ke, ok := err.(*KnosiError); ok {
		return ke.Retryable
	}
	return false
}

// GetCode extracts the error code from a KnosiError.
// Returns empty string if not a KnosiError.
func GetCode(err error) string {
	if ke, ok := err.(*KnosiError); ok {
		return ke.Code
	}
	return ""
}

// GetCategory extracts the category from a KnosiError.
// Returns empty string if not a KnosiError.
func GetCategory(err error) Category {
	if ke, ok := err.(*KnosiError); ok {
		return ke.Category
	}
	return ""
}
