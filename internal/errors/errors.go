// Package errors provides structured error types for the Rangekeeper system.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryCatalog    ErrorCategory = "CATALOG"
	ErrCategoryRouting    ErrorCategory = "ROUTING"
	ErrCategoryLifecycle  ErrorCategory = "LIFECYCLE"
	ErrCategoryManifest   ErrorCategory = "MANIFEST"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Catalog codes
	CodeDuplicateBoundary    = "DUPLICATE_BOUNDARY"
	CodeNonMonotonicBoundary = "NON_MONOTONIC_BOUNDARY"
	CodePartitionNotFound    = "PARTITION_NOT_FOUND"
	CodeCannotRetireOverflow = "CANNOT_RETIRE_OVERFLOW"
	CodeDuplicateName        = "DUPLICATE_NAME"

	// Validation codes
	CodeInvalidPredicate = "INVALID_PREDICATE"
	CodeInvalidKey       = "INVALID_KEY"
	CodeInvalidPolicy    = "INVALID_POLICY"

	// Manifest codes
	CodeWriteConflict      = "WRITE_CONFLICT"
	CodeCorruptionDetected = "CORRUPTION_DETECTED"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeDeleteFailed   = "DELETE_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// RangeError is the structured error type used throughout the system.
type RangeError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *RangeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *RangeError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *RangeError) Is(target error) bool {
	var t *RangeError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new RangeError.
func New(category ErrorCategory, code, message string) *RangeError {
	return &RangeError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new RangeError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *RangeError {
	return &RangeError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *RangeError) WithDetails(details map[string]interface{}) *RangeError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var re *RangeError
	if errors.As(err, &re) {
		return re.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a RangeError.
func GetCategory(err error) ErrorCategory {
	var re *RangeError
	if errors.As(err, &re) {
		return re.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a RangeError.
func GetCode(err error) string {
	var re *RangeError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// HasCode reports whether the error chain carries the given code.
func HasCode(err error, code string) bool {
	return GetCode(err) == code
}

// isRetryable determines if an error code is retryable. Catalog and
// lifecycle errors signal caller misuse or structural violations and are
// never retryable; only transient manifest/storage failures are.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDeleteFailed:
		return true
	case category == ErrCategoryManifest && code == CodeWriteConflict:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewCatalogError(code, message string) *RangeError {
	return New(ErrCategoryCatalog, code, message)
}

func NewValidationError(code, message string) *RangeError {
	return New(ErrCategoryValidation, code, message)
}

func NewRoutingError(code, message string) *RangeError {
	return New(ErrCategoryRouting, code, message)
}

func NewManifestError(code, message string, cause error) *RangeError {
	return Wrap(ErrCategoryManifest, code, message, cause)
}

func NewStorageError(code, message string, cause error) *RangeError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewInternalError(message string, cause error) *RangeError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
