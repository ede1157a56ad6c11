// Package errors provides the structured error system for gorados: error
// codes, categories, retryability hints, and the translation of native
// return codes into Go errors.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ErrorCode identifies one condition in the binding's closed error taxonomy.
type ErrorCode string

const (
	// Conditions mapped from native return codes.
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	ErrCodeNoSpace          ErrorCode = "NO_SPACE"
	ErrCodeExists           ErrorCode = "EXISTS"
	ErrCodeInvalid          ErrorCode = "INVALID"
	ErrCodeInterrupted      ErrorCode = "INTERRUPTED"
	ErrCodeTimeout          ErrorCode = "TIMEOUT"
	ErrCodeCanceled         ErrorCode = "CANCELED"
	ErrCodeUnknown          ErrorCode = "UNKNOWN"

	// Conditions detected by the binding itself, never produced by a
	// native return code.
	ErrCodeNotConnected   ErrorCode = "NOT_CONNECTED"
	ErrCodeInvalidState   ErrorCode = "INVALID_STATE"
	ErrCodeBufferTooSmall ErrorCode = "BUFFER_TOO_SMALL"
)

// ErrorCategory groups error codes for logging and metrics labels.
type ErrorCategory string

const (
	CategoryCluster  ErrorCategory = "cluster"
	CategoryIO       ErrorCategory = "io"
	CategoryState    ErrorCategory = "state"
	CategoryResource ErrorCategory = "resource"
	CategoryInternal ErrorCategory = "internal"
)

// RadosError is the error type returned by every fallible operation in the
// binding.
type RadosError struct {
	Code     ErrorCode      `json:"code"`
	Category ErrorCategory  `json:"category"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`

	// Errno holds the positive POSIX errno the native library reported,
	// or zero for conditions the binding detected locally.
	Errno int `json:"errno,omitempty"`

	Operation string    `json:"operation,omitempty"`
	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`

	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *RadosError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Operation, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As chains.
func (e *RadosError) Unwrap() error {
	return e.Cause
}

// Is matches on error code, so callers can compare against sentinel values
// built with New without caring about message or context.
func (e *RadosError) Is(target error) bool {
	if t, ok := target.(*RadosError); ok {
		return e.Code == t.Code
	}
	return false
}

// String returns a detailed representation for logging.
func (e *RadosError) String() string {
	parts := []string{
		fmt.Sprintf("Code=%s", e.Code),
		fmt.Sprintf("Category=%s", e.Category),
		fmt.Sprintf("Message=%q", e.Message),
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("Errno=%d", e.Errno))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("RadosError{%s}", strings.Join(parts, ", "))
}

// New creates an error with default category and retryability for the code.
func New(code ErrorCode, message string) *RadosError {
	return &RadosError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Retryable: IsRetryableByDefault(code),
	}
}

// Newf is New with fmt.Sprintf formatting.
func Newf(code ErrorCode, format string, args ...any) *RadosError {
	return New(code, fmt.Sprintf(format, args...))
}

// GetCategory determines the category for an error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeNotConnected, ErrCodeTimeout, ErrCodeCanceled:
		return CategoryCluster
	case ErrCodeNotFound, ErrCodePermissionDenied, ErrCodeExists, ErrCodeInterrupted:
		return CategoryIO
	case ErrCodeInvalidState, ErrCodeInvalid:
		return CategoryState
	case ErrCodeNoSpace, ErrCodeBufferTooSmall:
		return CategoryResource
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault reports whether an error code is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeTimeout, ErrCodeInterrupted, ErrCodeNotConnected:
		return true
	}
	return false
}

// WithOperation records the operation that produced the error.
func (e *RadosError) WithOperation(op string) *RadosError {
	e.Operation = op
	return e
}

// WithDetail attaches a key/value pair for diagnostics.
func (e *RadosError) WithDetail(key string, value any) *RadosError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause records the underlying error.
func (e *RadosError) WithCause(cause error) *RadosError {
	e.Cause = cause
	return e
}

// WithErrno records the positive native errno behind the error.
func (e *RadosError) WithErrno(errno int) *RadosError {
	e.Errno = errno
	return e
}
