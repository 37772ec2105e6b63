package discovery

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kbukum/regd/component"
	"github.com/kbukum/regd/errors"
	"github.com/kbukum/regd/logger"
)

// Agent keeps one instance registered for the life of the process.
type Agent struct {
	client *Client
	cfg    AgentConfig
	log    *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	renewals      atomic.Int64
	reregistered  atomic.Int64
	failedRenewal atomic.Int64
	lastErr       atomic.Value // string
}

var (
	_ component.Component   = (*Agent)(nil)
	_ component.Describable = (*Agent)(nil)
)

// NewAgent creates an agent for the instance described by cfg.
func NewAgent(client *Client, cfg AgentConfig, log *logger.Logger) (*Agent, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Agent{
		client: client,
		cfg:    cfg,
		log: log.WithComponent("discovery.agent").WithFields(map[string]interface{}{
			"service":  cfg.ServiceName,
			"instance": cfg.InstanceID,
		}),
	}, nil
}

// Name returns the component name.
func (a *Agent) Name() string { return "discovery-agent" }

// InstanceID returns the registered instance id.
func (a *Agent) InstanceID() string { return a.cfg.InstanceID }

// Start registers the instance and begins renewing it.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return fmt.Errorf("agent already started")
	}
	if err := a.register(ctx); err != nil {
		return fmt.Errorf("agent register: %w", err)
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.loop(loopCtx, a.done)

	a.log.Info("instance registered", logger.Fields("renew_interval", a.cfg.RenewInterval.String()))
	return nil
}

// Stop ends renewals and cancels the registration.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if _, err := a.client.Cancel(ctx, a.cfg.ServiceName, a.cfg.InstanceID); err != nil {
		a.log.Warn("cancel failed; the lease will expire", logger.Fields("error", err.Error()))
		return err
	}
	a.log.Info("instance cancelled")
	return nil
}

func (a *Agent) register(ctx context.Context) error {
	return a.client.Register(ctx, Registration{
		ServiceName:   a.cfg.ServiceName,
		InstanceID:    a.cfg.InstanceID,
		Host:          a.cfg.Host,
		Port:          a.cfg.Port,
		Metadata:      a.cfg.Metadata,
		LeaseDuration: a.cfg.LeaseDuration,
	})
}

func (a *Agent) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(a.cfg.RenewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Heartbeat(ctx)
		}
	}
}

// Heartbeat renews the lease once. When the registry no longer knows the
// instance, because it was evicted or the node restarted, the instance is
// registered again.
func (a *Agent) Heartbeat(ctx context.Context) error {
	err := a.client.Renew(ctx, a.cfg.ServiceName, a.cfg.InstanceID)
	if errors.HasCode(err, errors.ErrCodeNotFound) {
		a.log.Warn("registry lost the instance, registering again")
		if err = a.register(ctx); err == nil {
			a.reregistered.Add(1)
		}
	}
	if err != nil {
		if ctx.Err() == nil {
			a.failedRenewal.Add(1)
			a.lastErr.Store(err.Error())
			a.log.Error("renewal failed", logger.Fields("error", err.Error()))
		}
		return err
	}
	a.renewals.Add(1)
	a.lastErr.Store("")
	return nil
}

// Health is degraded while the last renewal failed.
func (a *Agent) Health(ctx context.Context) component.Health {
	a.mu.Lock()
	running := a.cancel != nil
	a.mu.Unlock()
	h := component.Health{Name: a.Name(), Status: component.StatusHealthy}
	lastErr, _ := a.lastErr.Load().(string)
	switch {
	case !running:
		h.Status, h.Message = component.StatusUnhealthy, "not registered"
	case lastErr != "":
		h.Status, h.Message = component.StatusDegraded, "last renewal failed: "+lastErr
	}
	return h
}

// Describe reports the registered instance for the startup summary.
func (a *Agent) Describe() component.Description {
	return component.Description{
		Name:    "Discovery agent",
		Type:    "worker",
		Details: fmt.Sprintf("%s/%s every %s", a.cfg.ServiceName, a.cfg.InstanceID, a.cfg.RenewInterval),
		Port:    a.cfg.Port,
	}
}

// AgentStats reports renewal counters.
type AgentStats struct {
	Renewals       int64 `json:"renewals"`
	Reregistered   int64 `json:"reregistered"`
	FailedRenewals int64 `json:"failedRenewals"`
}

// Stats returns the renewal counters.
func (a *Agent) Stats() AgentStats {
	return AgentStats{
		Renewals:       a.renewals.Load(),
		Reregistered:   a.reregistered.Load(),
		FailedRenewals: a.failedRenewal.Load(),
	}
}
