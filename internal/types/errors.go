package types

import (
	"fmt"
	"time"
)

// ErrorCode is the machine-readable taxonomy surfaced in API envelopes.
type ErrorCode string

const (
	ErrFileTooLarge      ErrorCode = "FILE_TOO_LARGE"
	ErrInvalidFileType   ErrorCode = "INVALID_FILE_TYPE"
	ErrImageTooSmall     ErrorCode = "IMAGE_TOO_SMALL"
	ErrImageQualityLow   ErrorCode = "IMAGE_QUALITY_TOO_LOW"
	ErrInvalidImage      ErrorCode = "INVALID_IMAGE"
	ErrMalformedRequest  ErrorCode = "MALFORMED_REQUEST"
	ErrRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrOCRFailed         ErrorCode = "OCR_FAILED"
	ErrLLMBudgetExceeded ErrorCode = "LLM_BUDGET_EXCEEDED"
	ErrNormalization     ErrorCode = "NORMALIZATION_FAILED"
	ErrUploadNotFound    ErrorCode = "UPLOAD_NOT_FOUND"
	ErrSessionNotFound   ErrorCode = "SESSION_NOT_FOUND"
	ErrLineNotFound      ErrorCode = "LINE_NOT_FOUND"
	ErrUnverifiedLines   ErrorCode = "UNVERIFIED_LINES"
	ErrSessionCommitted  ErrorCode = "SESSION_ALREADY_COMMITTED"
	ErrInsufficientStock ErrorCode = "INSUFFICIENT_STOCK"
	ErrForbidden         ErrorCode = "FORBIDDEN_PRIVILEGED_ACTION"
	ErrSignatureMismatch ErrorCode = "SIGNATURE_MISMATCH"
	ErrInternal          ErrorCode = "INTERNAL_ERROR"
)

// PipelineError is the coded error type the API boundary understands.
// Callers use errors.As to recover the code and details.
type PipelineError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewPipelineError builds a coded error without details.
func NewPipelineError(code ErrorCode, format string, args ...interface{}) *PipelineError {
	return &PipelineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetail attaches a detail field and returns the error for chaining.
func (e *PipelineError) WithDetail(key string, value interface{}) *PipelineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// RateLimitError carries the throttle window state back to the caller.
type RateLimitError struct {
	CurrentCount int
	Limit        int
	RetryAfter   time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d/%d uploads, retry after %v",
		e.CurrentCount, e.Limit, e.RetryAfter)
}

// Pipeline converts the rate-limit error into its coded form.
func (e *RateLimitError) Pipeline() *PipelineError {
	return NewPipelineError(ErrRateLimitExceeded, "upload rate limit exceeded").
		WithDetail("current_count", e.CurrentCount).
		WithDetail("limit", e.Limit).
		WithDetail("retry_after_seconds", int(e.RetryAfter.Seconds()))
}
