package component

import "context"

// Component is a part of the node whose lifetime the bootstrap App owns:
// the registry evictor, the HTTP server, peer and feed links, telemetry.
// Components start in registration order and stop in reverse.
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) Health
}

// Description is one line of the startup summary.
type Description struct {
	Name    string // defaults to Component.Name()
	Type    string // "server", "redis", "kafka", "worker", "sse"
	Details string
	Port    int
}

// Describable components list themselves in the startup summary.
type Describable interface {
	Describe() Description
}
