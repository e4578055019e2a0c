// Package errors provides structured error handling for the search pipeline.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 3XX: Network / external-dependency errors
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

import "fmt"

// Error codes organized by category.
const (
	ErrCodeConfigInvalid = "ERR_102_CONFIG_INVALID"

	ErrCodeEmbeddingFailed    = "ERR_301_EMBEDDING_FAILED"
	ErrCodeDenseSearchFailed  = "ERR_302_DENSE_SEARCH_FAILED"
	ErrCodeSparseSearchFailed = "ERR_303_SPARSE_SEARCH_FAILED"
	ErrCodeRerankFailed       = "ERR_304_RERANK_FAILED"

	ErrCodeInvalidQuery = "ERR_401_INVALID_QUERY"

	ErrCodeInternal = "ERR_501_INTERNAL"
)

// PipelineError is the structured error type for the search pipeline.
// The code identifies the failing stage so callers can distinguish
// "search failed" from "rerank degraded".
type PipelineError struct {
	// Code is the stable error code (e.g., "ERR_401_INVALID_QUERY").
	Code string

	// Message is the human-readable error message.
	Message string

	// Cause is the underlying error, preserved for errors.Unwrap.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is matches errors by code so errors.Is works with PipelineError values.
func (e *PipelineError) Is(target error) bool {
	if t, ok := target.(*PipelineError); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a new PipelineError with the given code and message.
func New(code string, message string, cause error) *PipelineError {
	return &PipelineError{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a PipelineError from an existing error, keeping its message.
func Wrap(code string, err error) *PipelineError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ValidationError creates an input-validation error.
func ValidationError(message string) *PipelineError {
	return New(ErrCodeInvalidQuery, message, nil)
}

// StageError wraps an external-dependency failure with a stage-identifying message.
func StageError(code, stage string, cause error) *PipelineError {
	return New(code, fmt.Sprintf("%s: %v", stage, cause), cause)
}

// IsRetryable reports whether an error is a retryable PipelineError.
func IsRetryable(err error) bool {
	if pe, ok := err.(*PipelineError); ok {
		return pe.Retryable
	}
	return false
}

// GetCode extracts the error code, or "" if err is not a PipelineError.
func GetCode(err error) string {
	if pe, ok := err.(*PipelineError); ok {
		return pe.Code
	}
	return ""
}

// isRetryableCode marks network-category codes as retryable.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeEmbeddingFailed, ErrCodeDenseSearchFailed, ErrCodeSparseSearchFailed, ErrCodeRerankFailed:
		return true
	}
	return false
}
