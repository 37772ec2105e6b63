package component

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kbukum/regd/logger"
)

const (
	// DefaultStopTimeout bounds each component's Stop call.
	DefaultStopTimeout = 10 * time.Second
	// HealthTimeout bounds each component's Health call within HealthAll.
	HealthTimeout = 2 * time.Second
)

type slot struct {
	c       Component
	running bool
}

// Registry owns the lifecycle of a node's components. It starts them in
// registration order and stops them in reverse, so register dependencies
// (the evictor) before their dependents (the HTTP server).
type Registry struct {
	log *logger.Logger

	mu    sync.RWMutex
	slots []*slot
}

// NewRegistry creates an empty registry. A nil logger discards output.
func NewRegistry(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.NewNop()
	}
	return &Registry{log: log.WithComponent("lifecycle")}
}

func (r *Registry) find(name string) *slot {
	for _, s := range r.slots {
		if s.c.Name() == name {
			return s
		}
	}
	return nil
}

// Register appends c. Names must be unique.
func (r *Registry) Register(c Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.find(c.Name()) != nil {
		return fmt.Errorf("component %s already registered", c.Name())
	}
	r.slots = append(r.slots, &slot{c: c})
	r.log.Debug("Component registered", logger.Fields("name", c.Name()))
	return nil
}

// StartAll starts every component in order. If one fails, those already
// running are stopped again and the failure is returned.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.log.Info("Starting components", logger.Fields("count", len(r.slots)))
	for _, s := range r.slots {
		begin := time.Now()
		if err := s.c.Start(ctx); err != nil {
			r.log.Error("Component start failed", logger.Fields("name", s.c.Name(), "error", err.Error()))
			_ = r.stopRunning(ctx)
			return fmt.Errorf("failed to start %s: %w", s.c.Name(), err)
		}
		s.running = true
		f := logger.Since("start", begin)
		f["name"] = s.c.Name()
		r.log.Debug("Component started", f)
	}
	return nil
}

// StopAll stops running components in reverse order. Every component gets
// its Stop call even when an earlier one fails; the failures are joined.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.log.Info("Stopping components")
	return r.stopRunning(ctx)
}

func (r *Registry) stopRunning(ctx context.Context) error {
	var errs []error
	for i := len(r.slots) - 1; i >= 0; i-- {
		s := r.slots[i]
		if !s.running {
			continue
		}
		stopCtx, cancel := context.WithTimeout(ctx, DefaultStopTimeout)
		err := s.c.Stop(stopCtx)
		cancel()
		s.running = false

		if err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", s.c.Name(), err))
			r.log.Error("Component stop failed", logger.Fields("name", s.c.Name(), "error", err.Error()))
			continue
		}
		r.log.Info("Component stopped", logger.Fields("name", s.c.Name()))
	}
	return errors.Join(errs...)
}

// HealthAll checks every component concurrently and returns the results in
// registration order. A check that outlives HealthTimeout is reported
// unhealthy.
func (r *Registry) HealthAll(ctx context.Context) []Health {
	comps := r.All()
	out := make([]Health, len(comps))

	var wg sync.WaitGroup
	for i, c := range comps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i] = checkOne(ctx, c)
		}()
	}
	wg.Wait()
	return out
}

func checkOne(ctx context.Context, c Component) Health {
	ctx, cancel := context.WithTimeout(ctx, HealthTimeout)
	defer cancel()

	done := make(chan Health, 1)
	go func() { done <- c.Health(ctx) }()

	select {
	case h := <-done:
		if h.Name == "" {
			h.Name = c.Name()
		}
		return h
	case <-ctx.Done():
		return Unhealthy(c.Name(), "health check timed out")
	}
}

// Get returns the component registered as name, or nil.
func (r *Registry) Get(name string) Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s := r.find(name); s != nil {
		return s.c
	}
	return nil
}

// All returns the components in registration order.
func (r *Registry) All() []Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Component, len(r.slots))
	for i, s := range r.slots {
		out[i] = s.c
	}
	return out
}
