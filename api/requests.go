package api

import (
	"fmt"
	"time"

	"github.com/kbukum/regd/errors"
	"github.com/kbukum/regd/registry"
	"github.com/kbukum/regd/validation"
)

// InstancePayload is the instance carried by a register request.
type InstancePayload struct {
	InstanceID  string            `json:"instanceId" validate:"required,regid,max=255"`
	ServiceName string            `json:"serviceName,omitempty" validate:"regid,max=255"`
	Host        string            `json:"host" validate:"required,reghost,max=255"`
	Port        int               `json:"port" validate:"min=1,max=65535"`
	Status      registry.Status   `json:"status,omitempty" validate:"omitempty,oneof=UP DOWN STARTING OUT_OF_SERVICE UNKNOWN"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// RegisterRequest is the body of POST /v1/register. LeaseDuration is in
// seconds; zero selects the registry default.
type RegisterRequest struct {
	ServiceName   string          `json:"serviceName" validate:"regid,max=255"`
	Instance      InstancePayload `json:"instance"`
	LeaseDuration int64           `json:"leaseDuration" validate:"min=0"`
}

// toInstance validates the request and resolves the service name, which
// may be given at the top level, inside the instance, or both if equal.
func (r RegisterRequest) toInstance() (registry.Instance, error) {
	if err := validation.Validate(r); err != nil {
		return registry.Instance{}, err
	}
	service := r.ServiceName
	switch {
	case service == "":
		service = r.Instance.ServiceName
	case r.Instance.ServiceName != "" && r.Instance.ServiceName != service:
		return registry.Instance{}, errors.MalformedInput("serviceName does not match instance.serviceName").
			WithDetail("field", "serviceName")
	}
	if service == "" {
		return registry.Instance{}, errors.MissingField("serviceName")
	}
	return registry.Instance{
		ServiceName: service,
		InstanceID:  r.Instance.InstanceID,
		Host:        r.Instance.Host,
		Port:        r.Instance.Port,
		Status:      r.Instance.Status,
		Metadata:    r.Instance.Metadata,
	}, nil
}

// lease converts LeaseDuration to a time.Duration. Values above limit are
// rejected before the conversion can overflow.
func (r RegisterRequest) lease(limit time.Duration) (time.Duration, error) {
	if secs := int64(limit / time.Second); r.LeaseDuration > secs {
		return 0, errors.MalformedInput(fmt.Sprintf("leaseDuration must not exceed %d seconds", secs)).
			WithDetail("field", "leaseDuration")
	}
	return time.Duration(r.LeaseDuration) * time.Second, nil
}

// InstanceRef names one instance, in a body or in the query string.
type InstanceRef struct {
	ServiceName string `json:"serviceName" validate:"required,max=255"`
	InstanceID  string `json:"instanceId" validate:"required,max=255"`
}

// StatusRequest is the body of PUT /v1/status.
type StatusRequest struct {
	ServiceName string          `json:"serviceName" validate:"required,max=255"`
	InstanceID  string          `json:"instanceId" validate:"required,max=255"`
	Status      registry.Status `json:"status" validate:"required,oneof=UP DOWN STARTING OUT_OF_SERVICE UNKNOWN"`
}

// ReplicateRequest is the body of POST /v1/replicate, sent by peers.
type ReplicateRequest struct {
	OriginNodeID string              `json:"originNodeId" validate:"required"`
	Action       registry.ActionType `json:"action" validate:"required,oneof=ADDED MODIFIED DELETED"`
	Instance     registry.Instance   `json:"instance"`
}

// InstancesResponse is returned by GET /v1/instances.
type InstancesResponse struct {
	Service   string              `json:"service"`
	Instances []registry.Instance `json:"instances"`
}

// RenewResponse is returned by PUT /v1/renew.
type RenewResponse struct {
	Renewed bool `json:"renewed"`
}

// CancelResponse is returned by DELETE /v1/cancel. Cancelled is false when
// the instance was already gone, which is still a success.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// StatusResponse is returned by PUT /v1/status.
type StatusResponse struct {
	Updated bool `json:"updated"`
}
