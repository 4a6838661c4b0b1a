// Package errors tests for error code definitions and error handling.
package errors

import (
	"errors"
	"strings"
	"testing"
)

// TestErrorCodeValues verifies all error codes have non-empty values.
func TestErrorCodeValues(t *testing.T) {
	tests := []struct {
		name string
		code ErrorCode
	}{
		// General errors
		{"internal", ErrInternal},
		{"invalid", ErrInvalid},
		{"not found", ErrNotFound},
		{"validation", ErrValidation},

		// Storage errors
		{"database", ErrDatabase},
		{"migration", ErrMigration},
		{"not initialized", ErrNotInitialized},

		// Queue errors
		{"queue message not found", ErrQueueMessageNotFound},
		{"delivery failed", ErrDeliveryFailed},

		// Cache errors
		{"quote not found", ErrQuoteNotFound},
		{"template not found", ErrTemplateNotFound},
		{"settings not found", ErrSettingsNotFound},

		// Network errors
		{"probe failed", ErrProbeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.code == "" {
				t.Errorf("ErrorCode %q should not be empty", tt.name)
			}
		})
	}
}

// TestAppError_Error verifies error message formatting.
func TestAppError_Error(t *testing.T) {
	err := New(ErrNotFound, "record missing")
	if !strings.Contains(err.Error(), "NOT_FOUND") {
		t.Errorf("Expected code in message, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "record missing") {
		t.Errorf("Expected message text, got %q", err.Error())
	}
}

// TestWrapAndUnwrap verifies wrapping preserves the underlying error.
func TestWrapAndUnwrap(t *testing.T) {
	inner := errors.New("disk full")
	wrapped := Wrap(ErrDatabase, "write failed", inner)

	if !strings.Contains(wrapped.Error(), "disk full") {
		t.Errorf("Expected wrapped error text, got %q", wrapped.Error())
	}

	if !errors.Is(wrapped, inner) {
		t.Error("Expected errors.Is to find the inner error")
	}
}

// TestIs verifies code matching.
func TestIs(t *testing.T) {
	err := New(ErrDeliveryFailed, "endpoint unreachable")

	if !Is(err, ErrDeliveryFailed) {
		t.Error("Expected Is to match DELIVERY_FAILED")
	}
	if Is(err, ErrNotFound) {
		t.Error("Expected Is not to match NOT_FOUND")
	}
	if Is(errors.New("plain"), ErrNotFound) {
		t.Error("Expected Is to reject non-AppError")
	}
}
