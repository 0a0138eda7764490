// Package errors provides structured error handling for farmscan operations.
// It defines error codes shared by the scan engine, the range expander and
// the HTTP surface, along with helpers for classifying them.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"
	CodeNotFound      ErrorCode = "NOT_FOUND"

	// Range and scanning errors.
	CodeRangeInvalid    ErrorCode = "RANGE_INVALID"
	CodeRangeTooLarge   ErrorCode = "RANGE_TOO_LARGE"
	CodeProbeFailed     ErrorCode = "PROBE_FAILED"
	CodeDiscoveryFailed ErrorCode = "DISCOVERY_FAILED"

	// Engine lifecycle errors.
	CodeNotRunning         ErrorCode = "NOT_RUNNING"
	CodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// ScanError represents an error raised by the scan engine or one of its inputs.
type ScanError struct {
	Code      ErrorCode
	Message   string
	Target    string
	Operation string
	Cause     error
	Context   map[string]interface{}
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Target != "" {
		msg = fmt.Sprintf("%s (target: %s)", msg, e.Target)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *ScanError) WithContext(key string, value interface{}) *ScanError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithOperation records the operation that failed.
func (e *ScanError) WithOperation(op string) *ScanError {
	e.Operation = op
	return e
}

// NewScanError creates a new scan error with the specified code and message.
func NewScanError(code ErrorCode, message string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewScanErrorWithTarget creates a scan error for a specific target.
func NewScanErrorWithTarget(code ErrorCode, message, target string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Context: make(map[string]interface{}),
	}
}

// WrapScanError wraps an existing error as a scan error.
func WrapScanError(code ErrorCode, message string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s, value: %v)", e.Code, e.Message, e.Field, e.Value)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Utility functions for common error operations

// GetCode extracts the error code from the first coded error in the chain.
func GetCode(err error) ErrorCode {
	var scanErr *ScanError
	if stderrors.As(err, &scanErr) {
		return scanErr.Code
	}
	var cfgErr *ConfigError
	if stderrors.As(err, &cfgErr) {
		return cfgErr.Code
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

// IsNotFound reports whether err refers to a missing resource.
func IsNotFound(err error) bool {
	return IsCode(err, CodeNotFound)
}

// IsNotRunning reports whether err was returned by a stopped engine.
func IsNotRunning(err error) bool {
	return IsCode(err, CodeNotRunning)
}

// IsValidation reports whether err is a caller input problem. Range
// errors count as validation failures.
func IsValidation(err error) bool {
	switch GetCode(err) {
	case CodeValidation, CodeRangeInvalid, CodeRangeTooLarge:
		return true
	default:
		return false
	}
}

// IsRetryable determines if an error indicates a retryable condition.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeTimeout, CodeServiceUnavailable:
		return true
	default:
		return false
	}
}

// Common error creation functions

// ErrRangeTooLarge reports that the requested ranges exceed max addresses.
func ErrRangeTooLarge(max int) *ScanError {
	return NewScanError(CodeRangeTooLarge,
		fmt.Sprintf("Range too large, max %d addresses allowed", max)).WithContext("max", max)
}

// ErrInvalidRange creates an error for a malformed range specification.
func ErrInvalidRange(spec string, cause error) *ScanError {
	e := NewScanErrorWithTarget(CodeRangeInvalid, "Invalid address range", spec)
	e.Cause = cause
	return e
}

// ErrNotRunning is returned by engine operations after shutdown.
func ErrNotRunning() *ScanError {
	return NewScanError(CodeNotRunning, "Scan engine is not running")
}

// ErrTaskNotFound creates an error for an unknown task id.
func ErrTaskNotFound(id string) *ScanError {
	return NewScanErrorWithTarget(CodeNotFound, "Scan task not found", id)
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}
