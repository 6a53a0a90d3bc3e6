package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIError(t *testing.T) {
	err := NewAPIError("slack", 503, "service unavailable")
	assert.Contains(t, err.Error(), "slack")
	assert.Contains(t, err.Error(), "503")
	assert.True(t, IsRetryable(err))
}

func TestAPIError_Unwrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := &APIError{Service: "slack", StatusCode: 500, Message: "boom", Err: inner}
	assert.ErrorIs(t, err, inner)
}

func TestStoreError_AlwaysRetryable(t *testing.T) {
	err := NewStoreError("save", errors.New("disk full"))
	assert.Contains(t, err.Error(), "save")
	assert.True(t, IsRetryable(err))

	wrapped := fmt.Errorf("persisting snapshot: %w", err)
	assert.True(t, IsRetryable(wrapped))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"timeout", ErrTimeout, true},
		{"rate limit", ErrRateLimit, true},
		{"unavailable", ErrUnavailable, true},
		{"not found", ErrNotFound, false},
		{"invalid input", ErrInvalidInput, false},
		{"api 404", NewAPIError("slack", 404, "no channel"), false},
		{"api 429", NewAPIError("slack", 429, "slow down"), true},
		{"generic", errors.New("nope"), false},
		{"wrapped timeout", fmt.Errorf("refresh: %w", ErrTimeout), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
