package logger

import (
	"time"
)

// Field keys shared across packages so log queries stay stable.
const (
	FieldComponent = "component"
	FieldRequestID = "request_id"
	FieldTraceID   = "trace_id"
	FieldSpanID    = "span_id"
	FieldNodeID    = "node_id"
	FieldService   = "service"
	FieldInstance  = "instance"
	FieldVersion   = "version"
	FieldOperation = "operation"
	FieldStatus    = "status"
	FieldError     = "error"
	FieldDuration  = "duration_ms"
)

// Fields pairs up alternating keys and values. Pairs whose key is not a
// string are dropped, as is a trailing key without a value.
//
//	log.Info("instance registered", logger.Fields(logger.FieldService, "orders"))
func Fields(kvs ...interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(kvs)/2)
	for i := 1; i < len(kvs); i += 2 {
		if key, ok := kvs[i-1].(string); ok {
			m[key] = kvs[i]
		}
	}
	return m
}

// InstanceFields identifies one registered instance.
func InstanceFields(service, instance string) map[string]interface{} {
	return map[string]interface{}{FieldService: service, FieldInstance: instance}
}

// ErrorFields records a failed operation.
func ErrorFields(op string, err error) map[string]interface{} {
	return map[string]interface{}{FieldOperation: op, FieldError: err.Error()}
}

// Since records how long op has been running since start, in milliseconds.
func Since(op string, start time.Time) map[string]interface{} {
	return map[string]interface{}{FieldOperation: op, FieldDuration: time.Since(start).Milliseconds()}
}
