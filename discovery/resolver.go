package discovery

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kbukum/regd/component"
	"github.com/kbukum/regd/errors"
	"github.com/kbukum/regd/logger"
	"github.com/kbukum/regd/registry"
)

// Resolver keeps a local replica of the registry. It loads one snapshot
// and then applies deltas; when the server no longer retains the cursor it
// falls back to a new snapshot.
type Resolver struct {
	client *Client
	cfg    ResolverConfig
	log    *logger.Logger
	sel    *selector

	mu        sync.RWMutex
	version   uint64
	loaded    bool
	services  map[string]map[string]registry.Instance
	lastSync  time.Time
	lastError error
	snapshots int

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

var (
	_ component.Component   = (*Resolver)(nil)
	_ component.Describable = (*Resolver)(nil)
)

// NewResolver creates a resolver. Call Refresh or Start to populate it.
func NewResolver(client *Client, cfg ResolverConfig, log *logger.Logger) *Resolver {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	return &Resolver{
		client:   client,
		cfg:      cfg,
		log:      log.WithComponent("discovery.resolver"),
		sel:      newSelector(),
		services: make(map[string]map[string]registry.Instance),
	}
}

// Name returns the component name.
func (r *Resolver) Name() string { return "resolver" }

// Start loads the registry and keeps it current in the background.
func (r *Resolver) Start(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	if r.cancel != nil {
		return fmt.Errorf("resolver already started")
	}
	if err := r.Refresh(ctx); err != nil {
		return fmt.Errorf("resolver initial load: %w", err)
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(loopCtx, r.done)
	return nil
}

// Stop ends background refreshes. The replica stays readable.
func (r *Resolver) Stop(ctx context.Context) error {
	r.lifecycle.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.lifecycle.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Resolver) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
				r.log.Warn("registry refresh failed, serving last known state", logger.Fields(
					"error", err.Error(),
					"version", r.Version(),
				))
			}
		}
	}
}

// Refresh brings the replica up to date.
func (r *Resolver) Refresh(ctx context.Context) error {
	r.mu.RLock()
	loaded, since := r.loaded, r.version
	r.mu.RUnlock()

	var err error
	if !loaded {
		err = r.loadSnapshot(ctx)
	} else {
		err = r.applyDelta(ctx, since)
		if errors.HasCode(err, errors.ErrCodeStaleCursor) {
			r.log.Info("delta cursor no longer retained, reloading snapshot", logger.Fields("since", since))
			err = r.loadSnapshot(ctx)
		}
	}

	r.mu.Lock()
	r.lastError = err
	if err == nil {
		r.lastSync = time.Now()
	}
	r.mu.Unlock()
	return err
}

func (r *Resolver) loadSnapshot(ctx context.Context) error {
	snap, err := r.client.Snapshot(ctx)
	if err != nil {
		return err
	}
	services := make(map[string]map[string]registry.Instance, len(snap.Services))
	for name, list := range snap.Services {
		m := make(map[string]registry.Instance, len(list))
		for _, inst := range list {
			m[inst.InstanceID] = inst
		}
		services[name] = m
	}

	r.mu.Lock()
	r.services, r.version, r.loaded = services, snap.Version, true
	r.snapshots++
	r.mu.Unlock()

	r.log.Debug("snapshot loaded", logger.Fields("version", snap.Version, "services", len(services)))
	return nil
}

func (r *Resolver) applyDelta(ctx context.Context, since uint64) error {
	delta, err := r.client.Delta(ctx, since)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.version != since {
		// A concurrent refresh already moved the replica.
		return nil
	}
	for _, ch := range delta.Changes {
		inst := ch.Instance
		switch ch.Action {
		case registry.ActionDeleted:
			if m := r.services[inst.ServiceName]; m != nil {
				delete(m, inst.InstanceID)
				if len(m) == 0 {
					delete(r.services, inst.ServiceName)
				}
			}
		default:
			m := r.services[inst.ServiceName]
			if m == nil {
				m = make(map[string]registry.Instance)
				r.services[inst.ServiceName] = m
			}
			m[inst.InstanceID] = inst
		}
	}
	r.version = delta.Version
	return nil
}

// Version returns the registry version the replica reflects.
func (r *Resolver) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Services returns the known service names, sorted.
func (r *Resolver) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.services))
	for name := range r.services {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Instances returns a service's instances sorted by instance id. Unless
// IncludeAll is set only UP instances are returned.
func (r *Resolver) Instances(serviceName string) []registry.Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.services[serviceName]
	out := make([]registry.Instance, 0, len(m))
	for _, inst := range m {
		if r.cfg.IncludeAll || inst.Status == registry.StatusUp {
			out = append(out, inst.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out
}

// Select picks one instance of serviceName with strategy.
func (r *Resolver) Select(serviceName string, strategy Strategy) (registry.Instance, error) {
	inst, err := r.sel.pick(serviceName, r.Instances(serviceName), strategy)
	if err != nil {
		return registry.Instance{}, fmt.Errorf("select %q: %w", serviceName, err)
	}
	return inst, nil
}

// Health is degraded while the last refresh failed.
func (r *Resolver) Health(ctx context.Context) component.Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h := component.Health{Name: r.Name(), Status: component.StatusHealthy}
	switch {
	case !r.loaded:
		h.Status, h.Message = component.StatusUnhealthy, "registry not loaded"
	case r.lastError != nil:
		h.Status = component.StatusDegraded
		h.Message = fmt.Sprintf("last refresh failed: %v (serving version %d)", r.lastError, r.version)
	}
	return h
}

// Describe reports the servers for the startup summary.
func (r *Resolver) Describe() component.Description {
	return component.Description{
		Name:    "Resolver",
		Type:    "worker",
		Details: fmt.Sprintf("servers=%v refresh=%s", r.client.Servers(), r.cfg.RefreshInterval),
	}
}
