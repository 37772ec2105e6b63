package errors

import (
	"fmt"
	"net/http"
)

// AppError is the unified application error type.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// HTTPStatus is the recommended HTTP status code for this error.
	HTTPStatus int `json:"-"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Retryable:  IsRetryableCode(code),
	}
}

// NotFound creates an AppError for an unknown instance.
func NotFound(serviceName, instanceID string) *AppError {
	return &AppError{
		Code: ErrCodeNotFound, Message: "Instance not registered. Re-register to obtain a new lease.",
		HTTPStatus: http.StatusNotFound, Retryable: false,
		Details: map[string]any{"serviceName": serviceName, "instanceId": instanceID},
	}
}

// MalformedInput creates an AppError for a rejected payload.
func MalformedInput(reason string) *AppError {
	return &AppError{
		Code: ErrCodeMalformedInput, Message: reason,
		HTTPStatus: http.StatusBadRequest, Retryable: false,
	}
}

// MissingField creates a MALFORMED_INPUT error naming the absent field.
func MissingField(field string) *AppError {
	return MalformedInput(fmt.Sprintf("Missing required field: %s", field)).WithDetail("field", field)
}

// StaleCursor creates an AppError for a delta request outside the retained window.
func StaleCursor(since, current uint64) *AppError {
	return &AppError{
		Code: ErrCodeStaleCursor, Message: "Delta cursor is no longer retained. Fetch a full snapshot.",
		HTTPStatus: http.StatusGone, Retryable: false,
		Details: map[string]any{"since": since, "version": current},
	}
}

// TransientUnavailable creates an AppError for a temporarily unreachable peer.
func TransientUnavailable(peer string) *AppError {
	return &AppError{
		Code: ErrCodeTransientUnavailable, Message: fmt.Sprintf("Peer %s is temporarily unavailable.", peer),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true,
		Details: map[string]any{"peer": peer},
	}
}

// RateLimited creates a new AppError for too many requests.
func RateLimited() *AppError {
	return &AppError{
		Code: ErrCodeRateLimited, Message: "Too many requests. Please wait a moment and try again.",
		HTTPStatus: http.StatusTooManyRequests, Retryable: true,
	}
}

// Timeout creates a new AppError for a request that timed out.
func Timeout(operation string) *AppError {
	return &AppError{
		Code: ErrCodeTimeout, Message: "The request took too long. Please try again.",
		HTTPStatus: http.StatusGatewayTimeout, Retryable: true,
		Details: map[string]any{"operation": operation},
	}
}

// ConnectionFailed creates a new AppError for a failed connection to a registry node.
func ConnectionFailed(target string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeConnectionFailed, Message: fmt.Sprintf("Unable to connect to %s.", target),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true,
		Details: map[string]any{"target": target}, Cause: cause,
	}
}

// Internal creates a new AppError for an internal server error.
func Internal(cause error) *AppError {
	return &AppError{
		Code: ErrCodeInternal, Message: "An unexpected error occurred.",
		HTTPStatus: http.StatusInternalServerError, Retryable: false, Cause: cause,
	}
}
