package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFeedError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *FeedError
		expected string
	}{
		{
			name: "with component and code",
			err: &FeedError{
				Op:        OpSubscribe,
				Component: "feed",
				Code:      ErrCodeSubscriptionFailure,
				Err:       fmt.Errorf("channel closed"),
			},
			expected: "subscribe operation failed in feed component [SUBSCRIPTION_FAILURE]: channel closed",
		},
		{
			name: "with resource",
			err: &FeedError{
				Op:        OpSubscribe,
				Component: "feed",
				Resource:  "menu_items",
				Code:      ErrCodeSubscriptionFailure,
				Err:       fmt.Errorf("timed out"),
			},
			expected: "subscribe operation failed in feed component (resource menu_items) [SUBSCRIPTION_FAILURE]: timed out",
		},
		{
			name: "without component",
			err: &FeedError{
				Op:  OpProbe,
				Err: fmt.Errorf("connection refused"),
			},
			expected: "probe operation failed: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestFeedError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := NewSubscriptionError(OpSubscribe, "menu_items", cause)
	assert.True(t, errors.Is(err, cause))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewSubscriptionError(OpSubscribe, "menu_items", fmt.Errorf("x"))))
	assert.True(t, IsRetryable(NewProbeError(fmt.Errorf("x"))))
	assert.True(t, IsRetryable(NewNetworkError(OpDispatch, fmt.Errorf("x"))))
	assert.False(t, IsRetryable(NewValidationError(OpValidate, fmt.Errorf("x"))))
	assert.False(t, IsRetryable(NewResolutionError(fmt.Errorf("x"))))
	assert.False(t, IsRetryable(fmt.Errorf("plain error")))
	assert.False(t, IsRetryable(nil))
}

func TestIsRetryable_Wrapped(t *testing.T) {
	inner := NewNetworkError(OpDispatch, fmt.Errorf("dropped"))
	wrapped := fmt.Errorf("outer: %w", inner)
	assert.True(t, IsRetryable(wrapped))
}

func TestWrapOpComponent(t *testing.T) {
	assert.Nil(t, WrapOpComponent(nil, OpClose, "manager"))

	err := WrapOpComponent(fmt.Errorf("boom"), OpClose, "manager")
	var feedErr *FeedError
	assert.True(t, errors.As(err, &feedErr))
	assert.Equal(t, OpClose, feedErr.Op)
	assert.Equal(t, "manager", feedErr.Component)
}
