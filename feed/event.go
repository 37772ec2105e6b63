package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/kbukum/regd/kafka"
	"github.com/kbukum/regd/registry"
)

const (
	eventTypePrefix = "regd.instance."
	schemaVersion   = "1"
)

// ChangeData is the payload of a feed event.
type ChangeData struct {
	Version  uint64              `json:"version"`
	Action   registry.ActionType `json:"action"`
	Instance registry.Instance   `json:"instance"`
}

// EventType returns the event type for an action, e.g.
// "regd.instance.deleted".
func EventType(a registry.ActionType) string {
	return eventTypePrefix + strings.ToLower(string(a))
}

func newEvent(ev registry.ChangeEvent, at time.Time) (kafka.Event, error) {
	data, err := json.Marshal(ChangeData{Version: ev.Version, Action: ev.Action, Instance: ev.Instance})
	if err != nil {
		return kafka.Event{}, fmt.Errorf("marshal change: %w", err)
	}
	return kafka.Event{
		ID:          uuid.NewString(),
		Type:        EventType(ev.Action),
		Source:      ev.NodeID,
		ContentType: "application/json",
		Version:     schemaVersion,
		Timestamp:   at.UTC(),
		Subject:     ev.Instance.Key().String(),
		Data:        data,
	}, nil
}

func toMessage(ev registry.ChangeEvent, at time.Time) (kafkago.Message, error) {
	e, err := newEvent(ev, at)
	if err != nil {
		return kafkago.Message{}, err
	}
	return kafka.EventMessage(e.Subject, e)
}
