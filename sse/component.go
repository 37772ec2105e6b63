package sse

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kbukum/regd/component"
)

const componentName = "watch"

// AttachFunc connects an event source to the hub and returns a function
// that detaches it.
type AttachFunc func(*Hub) (detach func())

// Component runs a Hub's dispatch loop under the component registry and
// keeps its event source attached while it runs.
type Component struct {
	hub    *Hub
	path   string
	attach AttachFunc

	mu      sync.Mutex
	stopped chan struct{}
	detach  func()

	// seenOverflows is the overflow count at the previous health check.
	seenOverflows atomic.Int64
}

var (
	_ component.Component   = (*Component)(nil)
	_ component.Describable = (*Component)(nil)
)

// NewComponent wraps hub, served at path. attach may be nil.
func NewComponent(hub *Hub, path string, attach AttachFunc) *Component {
	return &Component{hub: hub, path: path, attach: attach}
}

func (c *Component) Hub() *Hub    { return c.hub }
func (c *Component) Name() string { return componentName }

// Start runs the hub loop, then attaches the source so no event is
// published into a hub that is not dispatching.
func (c *Component) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped != nil {
		return fmt.Errorf("%s: already started", componentName)
	}

	c.stopped = make(chan struct{})
	go func(done chan<- struct{}) {
		defer close(done)
		c.hub.Run()
	}(c.stopped)

	if c.attach != nil {
		c.detach = c.attach(c.hub)
	}
	return nil
}

// Stop detaches the source first, then closes every stream and waits for
// the loop to exit or ctx to end.
func (c *Component) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detach != nil {
		c.detach()
		c.detach = nil
	}
	c.hub.Stop()
	if c.stopped == nil {
		return nil
	}
	select {
	case <-c.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Health is degraded when the publish queue overflowed since the previous
// check, meaning some watchers were cut off and must resync.
func (c *Component) Health(context.Context) component.Health {
	s := c.hub.Stats()
	prev := c.seenOverflows.Swap(s.Overflows)
	if s.Overflows > prev {
		return component.Degraded(componentName, fmt.Sprintf(
			"%d clients, publish queue overflowed %d times since last check", s.Clients, s.Overflows-prev))
	}
	h := component.Healthy(componentName)
	h.Message = fmt.Sprintf("%d clients", s.Clients)
	return h
}

func (c *Component) Describe() component.Description {
	return component.Description{
		Name:    "Watch streams",
		Type:    "sse",
		Details: fmt.Sprintf("GET %s, buffer %d per client", c.path, c.hub.Config().ClientBuffer),
	}
}
