package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Registry error kinds.
const (
	// ErrCodeNotFound indicates the instance or lease is unknown. Callers
	// renewing an instance recover by re-registering.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeMalformedInput indicates a request was rejected for missing or
	// invalid fields. Not retried.
	ErrCodeMalformedInput ErrorCode = "MALFORMED_INPUT"
	// ErrCodeStaleCursor indicates a delta cursor is outside the retained
	// change log. Callers fall back to a full snapshot.
	ErrCodeStaleCursor ErrorCode = "STALE_CURSOR"
	// ErrCodeTransientUnavailable is reserved for the replication layer.
	ErrCodeTransientUnavailable ErrorCode = "TRANSIENT_UNAVAILABLE"
)

// Transport errors
const (
	// ErrCodeRateLimited indicates the client is rate limited.
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"
	// ErrCodeTimeout indicates the request timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeConnectionFailed indicates a failed connection to a registry node.
	ErrCodeConnectionFailed ErrorCode = "CONNECTION_FAILED"
	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeTransientUnavailable: true,
	ErrCodeRateLimited:          true,
	ErrCodeTimeout:              true,
	ErrCodeConnectionFailed:     true,
	ErrCodeInternal:             false,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
