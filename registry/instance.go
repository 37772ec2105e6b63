package registry

import (
	"time"

	"github.com/kbukum/regd/validation"
)

// Status is the advertised state of an instance. Transitions are free-form.
type Status string

const (
	StatusUp           Status = "UP"
	StatusDown         Status = "DOWN"
	StatusStarting     Status = "STARTING"
	StatusOutOfService Status = "OUT_OF_SERVICE"
	StatusUnknown      Status = "UNKNOWN"
)

var allStatuses = []string{
	string(StatusUp), string(StatusDown), string(StatusStarting),
	string(StatusOutOfService), string(StatusUnknown),
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, v := range allStatuses {
		if string(s) == v {
			return true
		}
	}
	return false
}

// ActionType says what happened to an instance in a change.
type ActionType string

const (
	ActionAdded    ActionType = "ADDED"
	ActionModified ActionType = "MODIFIED"
	ActionDeleted  ActionType = "DELETED"
)

// Valid reports whether a is a known action.
func (a ActionType) Valid() bool {
	return a == ActionAdded || a == ActionModified || a == ActionDeleted
}

// Key uniquely identifies an instance.
type Key struct {
	ServiceName string `json:"serviceName"`
	InstanceID  string `json:"instanceId"`
}

func (k Key) String() string { return k.ServiceName + "/" + k.InstanceID }

// Instance is one registered endpoint of a service.
type Instance struct {
	InstanceID            string            `json:"instanceId"`
	ServiceName           string            `json:"serviceName"`
	Host                  string            `json:"host"`
	Port                  int               `json:"port"`
	Status                Status            `json:"status"`
	Metadata              map[string]string `json:"metadata,omitempty"`
	LastRenewalTimestamp  time.Time         `json:"lastRenewalTimestamp"`
	RegistrationTimestamp time.Time         `json:"registrationTimestamp"`
	ActionType            ActionType        `json:"actionType,omitempty"`
	LeaseDurationSeconds  int64             `json:"leaseDurationSeconds,omitempty"`
	// Origin is the node id of the peer that owns this record; empty for
	// records registered on this node.
	Origin string `json:"origin,omitempty"`
}

// Key returns the instance's unique key.
func (i Instance) Key() Key {
	return Key{ServiceName: i.ServiceName, InstanceID: i.InstanceID}
}

// Clone returns a deep copy.
func (i Instance) Clone() Instance {
	if i.Metadata != nil {
		md := make(map[string]string, len(i.Metadata))
		for k, v := range i.Metadata {
			md[k] = v
		}
		i.Metadata = md
	}
	return i
}

const (
	maxFieldLength     = 255
	maxMetadataEntries = 64
	maxMetadataLength  = 1024
)

// Validate checks the fields a registration must carry. An empty status is
// accepted and later defaults to UP.
func (i Instance) Validate() error {
	return validation.New().
		Required("serviceName", i.ServiceName).
		Required("instanceId", i.InstanceID).
		Required("host", i.Host).
		MaxLength("serviceName", i.ServiceName, maxFieldLength).
		MaxLength("instanceId", i.InstanceID, maxFieldLength).
		MaxLength("host", i.Host, maxFieldLength).
		Identifier("serviceName", i.ServiceName).
		Identifier("instanceId", i.InstanceID).
		Host("host", i.Host).
		Range("port", i.Port, 1, 65535).
		OneOf("status", string(i.Status), allStatuses).
		Metadata("metadata", i.Metadata, maxMetadataEntries, maxMetadataLength).
		Custom(i.LeaseDurationSeconds >= 0, "leaseDurationSeconds", "must not be negative").
		Err()
}
