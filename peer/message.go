package peer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kbukum/regd/registry"
)

// Message is the wire form of a replicated change.
type Message struct {
	OriginNodeID string              `json:"originNodeId"`
	Version      uint64              `json:"version"`
	Action       registry.ActionType `json:"action"`
	Instance     registry.Instance   `json:"instance"`
}

func messageFromEvent(ev registry.ChangeEvent) Message {
	return Message{
		OriginNodeID: ev.NodeID,
		Version:      ev.Version,
		Action:       ev.Action,
		Instance:     ev.Instance,
	}
}

func decodeMessage(payload string) (Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return Message{}, fmt.Errorf("decode replication message: %w", err)
	}
	return m, nil
}

// Presence is the record a node keeps in Redis while it is replicating.
type Presence struct {
	NodeID    string    `json:"nodeId"`
	Version   uint64    `json:"version"`
	Instances int       `json:"instances"`
	SeenAt    time.Time `json:"seenAt"`
}
