// Package errors provides structured error handling for knosid.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors
//   - 3XX: Capability errors (extraction, embedding, generation)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

import "net/http"

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates persistence-layer errors.
	CategoryStorage Category = "STORAGE"
	// CategoryCapability indicates external capability errors.
	CategoryCapability Category = "CAPABILITY"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigInvalid  = "ERR_101_CONFIG_INVALID"
	ErrCodeConfigNotFound = "ERR_102_CONFIG_NOT_FOUND"

	// Storage errors (200-299)
	ErrCodeStorageUnavailable = "ERR_201_STORAGE_UNAVAILABLE"
	ErrCodeNotFound           = "ERR_202_NOT_FOUND"
	ErrCodeCorruptIndex       = "ERR_203_CORRUPT_INDEX"

	// Capability errors (300-399)
	ErrCodeExtractionFailed = "ERR_301_EXTRACTION_FAILED"
	ErrCodeGenerationFailed = "ERR_302_GENERATION_FAILED"
	ErrCodeEmbeddingFailed  = "ERR_303_EMBEDDING_FAILED"
	ErrCodeCapabilityTimeout = "ERR_304_CAPABILITY_TIMEOUT"

	// Validation errors (400-499)
	ErrCodeUnsupportedType = "ERR_401_UNSUPPORTED_TYPE"
	ErrCodeEmptyDocument   = "ERR_402_EMPTY_DOCUMENT"
	ErrCodeInvalidInput    = "ERR_403_INVALID_INPUT"
	ErrCodeFileTooLarge    = "ERR_404_FILE_TOO_LARGE"

	// Internal errors (500-599)
	ErrCodeInternal = "ERR_501_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "202" from "ERR_202_NOT_FOUND")
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryCapability
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeConfigInvalid:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeStorageUnavailable, ErrCodeEmbeddingFailed, ErrCodeGenerationFailed, ErrCodeCapabilityTimeout:
		return true
	default:
		return false
	}
}

// HTTPStatus maps an error to the status code the API should return.
// Unknown errors map to 500.
func HTTPStatus(err error) int {
	ke, ok := err.(*KnosiError)
	if !ok {
		return http.StatusInternalServerError
	}

	switch ke.Code {
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrCodeUnsupportedType:
		return http.StatusUnsupportedMediaType
	case ErrCodeEmptyDocument:
		return http.StatusUnprocessableEntity
	case ErrCodeExtractionFailed, ErrCodeGenerationFailed, ErrCodeEmbeddingFailed:
		return http.StatusBadGateway
	case ErrCodeCapabilityTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
