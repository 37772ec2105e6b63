// Package validation checks registration payloads and configuration.
//
// Struct tag validation wraps go-playground/validator and is used for
// decoded HTTP bodies:
//
//	type registerRequest struct {
//	    ServiceName string `json:"serviceName" validate:"required,max=255"`
//	}
//	err := validation.Validate(req)
//
// Programmatic validation collects field errors:
//
//	v := validation.New()
//	v.Required("instanceId", inst.InstanceID).Host("host", inst.Host).Range("port", inst.Port, 1, 65535)
//	if err := v.Validate(); err != nil { ... }
//
// Both return *errors.AppError with code MALFORMED_INPUT.
package validation
