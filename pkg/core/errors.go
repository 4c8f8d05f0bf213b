package core

import (
	"errors"
	"fmt"
)

// ExecutionError represents a structured error with category and details
type ExecutionError struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: element_not_found, timeout, etc.
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is matches execution errors by code so wrapped copies compare equal to
// the predefined values.
func (e *ExecutionError) Is(target error) bool {
	var t *ExecutionError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  e.Details,
		Cause:    cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  msg,
		Details:  e.Details,
		Cause:    e.Cause,
	}
}

// WithDetails returns a copy of the error with additional details
func (e *ExecutionError) WithDetails(details map[string]interface{}) *ExecutionError {
	merged := make(map[string]interface{})
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  merged,
		Cause:    e.Cause,
	}
}

// Predefined errors
var (
	// Assertion errors
	ErrElementNotFound = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "element_not_found",
		Message:  "element not found",
	}
	ErrElementNotVisible = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "element_not_visible",
		Message:  "element not visible",
	}
	ErrTextMismatch = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "text_mismatch",
		Message:  "text does not match expected value",
	}

	// Timeout errors
	ErrTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "timeout",
		Message:  "operation timed out",
	}
	ErrWaitTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "wait_timeout",
		Message:  "wait condition timed out",
	}

	// Connection errors
	ErrSessionUnavailable = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "session_unavailable",
		Message:  "could not open browser session",
	}
	ErrSessionLost = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "session_lost",
		Message:  "browser session lost",
	}

	// App errors
	ErrNavigationFailed = &ExecutionError{
		Category: ErrCategoryApp,
		Code:     "navigation_failed",
		Message:  "navigation failed",
	}
	ErrPageCrashed = &ExecutionError{
		Category: ErrCategoryApp,
		Code:     "page_crashed",
		Message:  "page crashed",
	}

	// Config errors
	ErrInvalidDescriptor = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_descriptor",
		Message:  "invalid action descriptor",
	}
	ErrUnsupportedAction = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "unsupported_action",
		Message:  "action not supported by driver",
	}

	// Resolution errors
	ErrUnresolved = &ExecutionError{
		Category: ErrCategoryResolution,
		Code:     "unresolved",
		Message:  "instruction could not be resolved to an action",
	}
	ErrInterpreterUnavailable = &ExecutionError{
		Category: ErrCategoryResolution,
		Code:     "interpreter_unavailable",
		Message:  "fallback interpreter is not available",
	}
)

// NewExecutionError creates a new ExecutionError with the given parameters
func NewExecutionError(category ErrorCategory, code, message string) *ExecutionError {
	return &ExecutionError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// CategoryOf returns the category of the first ExecutionError in err's chain.
func CategoryOf(err error) ErrorCategory {
	if err == nil {
		return ErrCategoryNone
	}
	var e *ExecutionError
	if errors.As(err, &e) {
		return e.Category
	}
	return ErrCategoryApp
}
