package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kbukum/regd/component"
	"github.com/kbukum/regd/logger"
)

// Evictor runs Sweep on a dedicated timer, never inline with requests.
type Evictor struct {
	reg      *Registry
	interval time.Duration
	log      *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	sweeps    atomic.Int64
	lastSweep atomic.Int64
}

var (
	_ component.Component   = (*Evictor)(nil)
	_ component.Describable = (*Evictor)(nil)
)

// NewEvictor creates the eviction task for reg.
func NewEvictor(reg *Registry, log *logger.Logger) *Evictor {
	if log == nil {
		log = logger.NewNop()
	}
	return &Evictor{
		reg:      reg,
		interval: reg.cfg.SweepInterval,
		log:      log.WithComponent("evictor"),
	}
}

// Name returns the component name.
func (e *Evictor) Name() string { return "evictor" }

// Start launches the sweep loop. The loop outlives ctx, which only scopes
// startup, and keeps its values; Stop ends it.
func (e *Evictor) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return fmt.Errorf("evictor already started")
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.loop(loopCtx, e.done)

	e.log.Info("eviction task started", logger.Fields("interval", e.interval.String()))
	return nil
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (e *Evictor) Stop(ctx context.Context) error {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()
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

// Health is degraded while self-preservation is active and unhealthy when
// sweeps have stopped happening.
func (e *Evictor) Health(ctx context.Context) component.Health {
	h := component.Health{Name: e.Name(), Status: component.StatusHealthy}
	e.mu.Lock()
	running := e.cancel != nil
	e.mu.Unlock()
	switch {
	case !running:
		h.Status = component.StatusUnhealthy
		h.Message = "not running"
	case e.lastSweep.Load() > 0 && e.reg.clock.Now().Sub(time.Unix(0, e.lastSweep.Load())) > 3*e.interval:
		h.Status = component.StatusUnhealthy
		h.Message = "sweep overdue"
	case e.reg.monitor.Active():
		h.Status = component.StatusDegraded
		h.Message = "self-preservation active"
	}
	return h
}

// Describe reports the sweep interval for the startup summary.
func (e *Evictor) Describe() component.Description {
	return component.Description{
		Name:    "Evictor",
		Type:    "worker",
		Details: fmt.Sprintf("interval=%s leeway=%.1fx", e.interval, e.reg.cfg.LeewayFactor),
	}
}

// Sweeps returns the number of completed sweeps.
func (e *Evictor) Sweeps() int64 { return e.sweeps.Load() }

// RunOnce performs one sweep at the registry clock's current time.
func (e *Evictor) RunOnce(ctx context.Context) SweepResult {
	now := e.reg.clock.Now()
	res := e.reg.Sweep(now)
	e.sweeps.Add(1)
	e.lastSweep.Store(now.UnixNano())
	if len(res.Expired) > 0 || res.Pruned > 0 {
		e.log.Debug("sweep finished", logger.Fields(
			"expired", len(res.Expired),
			"evicted", len(res.Evicted),
			"suppressed", res.Suppressed,
			"pruned", res.Pruned,
		))
	}
	return res
}

func (e *Evictor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.RunOnce(ctx)
		}
	}
}
