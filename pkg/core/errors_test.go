package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestExecutionError_Error(t *testing.T) {
	err := &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "test_error",
		Message:  "test message",
	}

	if got := err.Error(); got != "test message" {
		t.Errorf("Error() = %q, want %q", got, "test message")
	}
}

func TestExecutionError_ErrorWithCause(t *testing.T) {
	cause := errors.New("underlying error")
	err := &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "test_error",
		Message:  "test message",
		Cause:    cause,
	}

	got := err.Error()
	if !strings.Contains(got, "test message") {
		t.Errorf("Error() = %q, should contain 'test message'", got)
	}
	if !strings.Contains(got, "underlying error") {
		t.Errorf("Error() = %q, should contain 'underlying error'", got)
	}
}

func TestExecutionError_WithCause(t *testing.T) {
	original := ErrElementNotFound
	cause := errors.New("custom cause")

	newErr := original.WithCause(cause)

	if newErr.Cause != cause {
		t.Error("WithCause() did not set cause")
	}
	if newErr.Code != original.Code {
		t.Error("WithCause() changed code")
	}
	if original.Cause != nil {
		t.Error("WithCause() modified original error")
	}
}

func TestExecutionError_WithMessage(t *testing.T) {
	original := ErrTimeout
	newErr := original.WithMessage("custom timeout message")

	if newErr.Message != "custom timeout message" {
		t.Errorf("Message = %q, want 'custom timeout message'", newErr.Message)
	}
	if original.Message == "custom timeout message" {
		t.Error("WithMessage() modified original error")
	}
}

func TestExecutionError_WithDetails(t *testing.T) {
	original := &ExecutionError{
		Code:    "test",
		Message: "test",
		Details: map[string]interface{}{"existing": "value"},
	}

	newErr := original.WithDetails(map[string]interface{}{"selector": "#button"})

	if newErr.Details["selector"] != "#button" {
		t.Error("WithDetails() did not add new details")
	}
	if newErr.Details["existing"] != "value" {
		t.Error("WithDetails() did not preserve existing details")
	}
	if _, ok := original.Details["selector"]; ok {
		t.Error("WithDetails() modified original error")
	}
}

func TestExecutionError_IsMatchesByCode(t *testing.T) {
	wrapped := fmt.Errorf("step 3: %w", ErrElementNotFound.WithMessage("no #submit on page"))

	if !errors.Is(wrapped, ErrElementNotFound) {
		t.Error("errors.Is() should match copies by code")
	}
	if errors.Is(wrapped, ErrTimeout) {
		t.Error("errors.Is() matched a different code")
	}
}

func TestPredefinedErrors(t *testing.T) {
	tests := []struct {
		err      *ExecutionError
		category ErrorCategory
		code     string
	}{
		{ErrElementNotFound, ErrCategoryAssertion, "element_not_found"},
		{ErrElementNotVisible, ErrCategoryAssertion, "element_not_visible"},
		{ErrTextMismatch, ErrCategoryAssertion, "text_mismatch"},
		{ErrTimeout, ErrCategoryTimeout, "timeout"},
		{ErrWaitTimeout, ErrCategoryTimeout, "wait_timeout"},
		{ErrSessionUnavailable, ErrCategoryConnection, "session_unavailable"},
		{ErrSessionLost, ErrCategoryConnection, "session_lost"},
		{ErrNavigationFailed, ErrCategoryApp, "navigation_failed"},
		{ErrPageCrashed, ErrCategoryApp, "page_crashed"},
		{ErrInvalidDescriptor, ErrCategoryConfig, "invalid_descriptor"},
		{ErrUnsupportedAction, ErrCategoryConfig, "unsupported_action"},
		{ErrUnresolved, ErrCategoryResolution, "unresolved"},
		{ErrInterpreterUnavailable, ErrCategoryResolution, "interpreter_unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if tt.err.Category != tt.category {
				t.Errorf("Category = %s, want %s", tt.err.Category, tt.category)
			}
			if tt.err.Code != tt.code {
				t.Errorf("Code = %s, want %s", tt.err.Code, tt.code)
			}
			if tt.err.Message == "" {
				t.Error("Message should not be empty")
			}
		})
	}
}

func TestCategoryOf(t *testing.T) {
	if got := CategoryOf(nil); got != ErrCategoryNone {
		t.Errorf("CategoryOf(nil) = %s, want none", got)
	}
	if got := CategoryOf(fmt.Errorf("x: %w", ErrWaitTimeout)); got != ErrCategoryTimeout {
		t.Errorf("CategoryOf(wait timeout) = %s, want timeout", got)
	}
	if got := CategoryOf(errors.New("boom")); got != ErrCategoryApp {
		t.Errorf("CategoryOf(plain) = %s, want app", got)
	}
}

func TestBoundaryErrorKinds(t *testing.T) {
	nf := fmt.Errorf("lookup: %w", NotFound("run %s not found", "r1"))
	if !IsNotFound(nf) {
		t.Error("IsNotFound() = false for wrapped NotFound")
	}
	if IsValidation(nf) {
		t.Error("IsValidation() = true for NotFound")
	}
	if got := nf.Error(); !strings.Contains(got, "run r1 not found") {
		t.Errorf("Error() = %q", got)
	}

	if KindOf(Validation("runName is required")) != KindValidation {
		t.Error("KindOf(Validation) != KindValidation")
	}
	if KindOf(Conflict("busy")) != KindConflict {
		t.Error("KindOf(Conflict) != KindConflict")
	}
	if KindOf(errors.New("plain")) != KindInternal {
		t.Error("KindOf(plain) != KindInternal")
	}

	cause := errors.New("disk full")
	if !errors.Is(Internal(cause, "save test"), cause) {
		t.Error("Internal() should unwrap to cause")
	}
	if IsNotFound(nil) {
		t.Error("IsNotFound(nil) = true")
	}
}
