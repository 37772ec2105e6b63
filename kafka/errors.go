package kafka

import "strings"

// ErrorClass says how the producer should react to a write error.
type ErrorClass int

const (
	// ErrorUnknown errors are retried up to the configured limit.
	ErrorUnknown ErrorClass = iota
	// ErrorConnection means the broker could not be reached.
	ErrorConnection
	// ErrorTransient means the broker asked the client to try again.
	ErrorTransient
	// ErrorPermanent will fail the same way on every attempt.
	ErrorPermanent
)

func (c ErrorClass) String() string {
	switch c {
	case ErrorConnection:
		return "connection"
	case ErrorTransient:
		return "transient"
	case ErrorPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

var (
	connectionPatterns = []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"i/o timeout",
		"no route to host",
		"network is unreachable",
		"broker not available",
		"leader not available",
		"connection closed",
		"dial tcp",
		"network exception",
	}
	transientPatterns = []string{
		"temporary",
		"request timed out",
		"not enough replicas",
	}
	permanentPatterns = []string{
		"message too large",
		"message size too large",
		"invalid topic",
		"invalid partition",
		"unknown topic",
		"authorization failed",
		"sasl authentication failed",
	}
)

// Classify maps a kafka-go error to an ErrorClass by its message.
// kafka-go surfaces most broker errors only as text.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorUnknown
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, permanentPatterns):
		return ErrorPermanent
	case containsAny(msg, connectionPatterns):
		return ErrorConnection
	case containsAny(msg, transientPatterns):
		return ErrorTransient
	default:
		return ErrorUnknown
	}
}

// IsNonRetryableError reports whether retrying err is pointless.
func IsNonRetryableError(err error) bool {
	return Classify(err) == ErrorPermanent
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
