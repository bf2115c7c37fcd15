// Package errors provides custom error types for the menusync subsystem.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the type of error that occurred
type ErrorCode string

const (
	ErrCodeNetworkFailure      ErrorCode = "NETWORK_FAILURE"
	ErrCodeSubscriptionFailure ErrorCode = "SUBSCRIPTION_FAILURE"
	ErrCodeProbeFailure        ErrorCode = "PROBE_FAILURE"
	ErrCodeValidationFailure   ErrorCode = "VALIDATION_FAILURE"
	ErrCodeResolutionFailure   ErrorCode = "RESOLUTION_FAILURE"
)

// Operation represents the type of feed operation
type Operation string

const (
	OpSubscribe   Operation = "subscribe"
	OpUnsubscribe Operation = "unsubscribe"
	OpDispatch    Operation = "dispatch"
	OpProbe       Operation = "probe"
	OpReconnect   Operation = "reconnect"
	OpResolve     Operation = "resolve"
	OpValidate    Operation = "validate"
	OpClose       Operation = "close"
)

// FeedError represents an error that occurred inside the realtime subsystem
type FeedError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "feed", "manager")
	Component string

	// Resource the error relates to, if any
	Resource string

	// Underlying error
	Err error

	// Whether the operation can be retried
	Retryable bool

	// Error code for the error type
	Code ErrorCode

	// Metadata for additional context
	Metadata map[string]interface{}
}

func (e *FeedError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Resource != "" {
		msg += fmt.Sprintf(" (resource %s)", e.Resource)
	}

	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}

	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *FeedError) Unwrap() error {
	return e.Err
}

// NewSubscriptionError creates a new subscription-related FeedError
func NewSubscriptionError(op Operation, resource string, cause error) *FeedError {
	return &FeedError{
		Code:      ErrCodeSubscriptionFailure,
		Op:        op,
		Component: "feed",
		Resource:  resource,
		Err:       cause,
		Retryable: true,
	}
}

// NewProbeError creates a new health-probe-related FeedError
func NewProbeError(cause error) *FeedError {
	return &FeedError{
		Code:      ErrCodeProbeFailure,
		Op:        OpProbe,
		Component: "health",
		Err:       cause,
		Retryable: true,
	}
}

// NewNetworkError creates a new network-related FeedError
func NewNetworkError(op Operation, cause error) *FeedError {
	return &FeedError{
		Code:      ErrCodeNetworkFailure,
		Op:        op,
		Component: "transport",
		Err:       cause,
		Retryable: true,
	}
}

// NewValidationError creates a new validation-related FeedError
func NewValidationError(op Operation, cause error) *FeedError {
	return &FeedError{
		Code:      ErrCodeValidationFailure,
		Op:        op,
		Err:       cause,
		Retryable: false,
	}
}

// NewResolutionError creates a new conflict-resolution FeedError
func NewResolutionError(cause error) *FeedError {
	return &FeedError{
		Code:      ErrCodeResolutionFailure,
		Op:        OpResolve,
		Component: "conflict",
		Err:       cause,
		Retryable: false,
	}
}

// New creates a new FeedError
func New(op Operation, err error) *FeedError {
	return &FeedError{
		Op:  op,
		Err: err,
	}
}

// NewWithComponent creates a new FeedError with component information
func NewWithComponent(op Operation, component string, err error) *FeedError {
	return &FeedError{
		Op:        op,
		Component: component,
		Err:       err,
	}
}

// WrapOpComponent wraps an error with consistent Op and Component propagation.
// If err is nil, returns nil.
func WrapOpComponent(err error, op Operation, component string) error {
	if err == nil {
		return nil
	}
	return NewWithComponent(op, component, err)
}

// IsRetryable checks if an error is a retryable FeedError
func IsRetryable(err error) bool {
	var feedErr *FeedError
	if errors.As(err, &feedErr) {
		return feedErr.Retryable
	}
	return false
}
