package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents internal error codes for cache operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Client errors
	ErrCodeInvalidArgument   ErrorCode = 1000
	ErrCodeValidationFailure ErrorCode = 1001
	ErrCodeNotFound          ErrorCode = 1002

	// Server errors
	ErrCodeStoreUnavailable ErrorCode = 2000
	ErrCodeTimeout          ErrorCode = 2001
	ErrCodeShuttingDown     ErrorCode = 2002
	ErrCodeInternal         ErrorCode = 2003
)

// CacheError represents a structured error with code and context
type CacheError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *CacheError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// NewCacheError creates a new CacheError
func NewCacheError(code ErrorCode, message string, cause error) *CacheError {
	return &CacheError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *CacheError) WithDetail(key string, value interface{}) *CacheError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *CacheError {
	return NewCacheError(ErrCodeInvalidArgument, message, cause)
}

func ValidationFailure(field, reason string) *CacheError {
	return NewCacheError(ErrCodeValidationFailure, fmt.Sprintf("invalid message %s: %s", field, reason), nil).
		WithDetail("field", field).
		WithDetail("reason", reason)
}

func NotFound(kind, key string) *CacheError {
	return NewCacheError(ErrCodeNotFound, fmt.Sprintf("%s not found: %s", kind, key), nil).
		WithDetail("kind", kind).
		WithDetail("key", key)
}

func StoreUnavailable(operation string, cause error) *CacheError {
	return NewCacheError(ErrCodeStoreUnavailable, fmt.Sprintf("durable store unavailable during %s", operation), cause).
		WithDetail("operation", operation)
}

func Timeout(operation string, limit time.Duration) *CacheError {
	return NewCacheError(ErrCodeTimeout, fmt.Sprintf("%s timed out after %v", operation, limit), nil).
		WithDetail("operation", operation).
		WithDetail("limit", limit.String())
}

func ShuttingDown(component string) *CacheError {
	return NewCacheError(ErrCodeShuttingDown, fmt.Sprintf("%s is shutting down", component), nil).
		WithDetail("component", component)
}

func InternalError(message string, cause error) *CacheError {
	return NewCacheError(ErrCodeInternal, message, cause)
}

// IsCacheError checks if an error is a CacheError
func IsCacheError(err error) bool {
	var ce *CacheError
	return errors.As(err, &ce)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	var ce *CacheError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrCodeInternal
}

// IsTimeout reports whether the error carries the timeout code
func IsTimeout(err error) bool {
	return GetCode(err) == ErrCodeTimeout
}

// IsStoreUnavailable reports whether the error carries the store-unavailable code
func IsStoreUnavailable(err error) bool {
	return GetCode(err) == ErrCodeStoreUnavailable
}
