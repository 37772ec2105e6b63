package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kbukum/regd/component"
	"github.com/kbukum/regd/logger"
	"github.com/kbukum/regd/observability"
	"github.com/kbukum/regd/redis"
	"github.com/kbukum/regd/registry"
)

const presencePrefix = "regd:peers"

// Registry is the part of the registry the replicator drives.
type Registry interface {
	NodeID() string
	Stats() registry.Stats
	OnLocalChange(fn registry.ChangeListener) (unsubscribe func())
	ApplyRemoteUpdate(inst registry.Instance, action registry.ActionType, originNodeID string) error
	Origins() []string
	PurgeOrigin(originNodeID string) int
}

var _ Registry = (*registry.Registry)(nil)

// Replicator publishes local changes and applies peers' changes.
type Replicator struct {
	reg Registry
	cfg Config
	log *logger.Logger

	queue chan registry.ChangeEvent

	mu       sync.Mutex
	client   *redis.Client
	sub      *goredis.PubSub
	presence *redis.Records[Presence]
	unsub    func()
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	published atomic.Int64
	applied   atomic.Int64
	rejected  atomic.Int64
	dropped   atomic.Int64
	purged    atomic.Int64

	// absent holds origins that had no presence record at the last reap.
	// Only the heartbeat goroutine touches it.
	absent map[string]bool
}

var (
	_ component.Component   = (*Replicator)(nil)
	_ component.Describable = (*Replicator)(nil)
)

// New creates the replicator. Nothing connects until Start.
func New(reg Registry, cfg Config, log *logger.Logger) *Replicator {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	return &Replicator{
		reg:   reg,
		cfg:   cfg,
		log:   log.WithComponent("peer"),
		queue: make(chan registry.ChangeEvent, cfg.QueueSize),
	}
}

// Name returns the component name.
func (r *Replicator) Name() string { return "peer" }

// Start connects to Redis, subscribes to the replication channel and begins
// forwarding local changes.
func (r *Replicator) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return fmt.Errorf("peer replicator already started")
	}

	client, err := redis.New(r.cfg.Redis, r.log)
	if err != nil {
		return fmt.Errorf("peer start: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		_ = client.Close()
		return fmt.Errorf("peer start ping: %w", err)
	}
	sub, err := client.Subscribe(ctx, r.cfg.Channel)
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("peer start: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.client, r.sub, r.cancel = client, sub, cancel
	r.presence = redis.NewRecords[Presence](client, presencePrefix)
	r.unsub = r.reg.OnLocalChange(r.enqueue)

	r.wg.Add(3)
	go r.publishLoop(loopCtx, client)
	go r.receiveLoop(loopCtx, sub.Channel())
	go r.heartbeatLoop(loopCtx)

	r.log.Info("peer replication started", logger.Fields(
		"channel", r.cfg.Channel,
		"redis", client.Addr(),
		"node_id", r.reg.NodeID(),
	))
	return nil
}

// Stop detaches from the registry, drains in-flight work and disconnects.
func (r *Replicator) Stop(ctx context.Context) error {
	r.mu.Lock()
	client, sub, cancel, unsub, presence := r.client, r.sub, r.cancel, r.unsub, r.presence
	r.client, r.sub, r.cancel, r.unsub = nil, nil, nil, nil
	r.mu.Unlock()
	if client == nil {
		return nil
	}

	unsub()
	cancel()
	_ = sub.Close()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		_ = client.Close()
		return ctx.Err()
	}

	if err := presence.Delete(ctx, r.reg.NodeID()); err != nil {
		r.log.Warn("failed to remove presence record", logger.Fields("error", err.Error()))
	}
	r.log.Info("peer replication stopped", logger.Fields(
		"published", r.published.Load(),
		"applied", r.applied.Load(),
		"dropped", r.dropped.Load(),
	))
	return client.Close()
}

// enqueue is the registry change listener. It runs on the writer's
// goroutine and never blocks.
func (r *Replicator) enqueue(ev registry.ChangeEvent) {
	select {
	case r.queue <- ev:
	default:
		if n := r.dropped.Add(1); n == 1 || n%1000 == 0 {
			r.log.Warn("replication queue full, dropping change", logger.Fields(
				"dropped_total", n,
				"service", ev.Instance.ServiceName,
				"instance", ev.Instance.InstanceID,
			))
		}
	}
}

func (r *Replicator) publishLoop(ctx context.Context, client *redis.Client) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.queue:
			r.publish(ctx, client, ev)
		}
	}
}

func (r *Replicator) publish(ctx context.Context, client *redis.Client, ev registry.ChangeEvent) {
	ctx, span := observability.StartSpan(ctx, "peer.publish",
		observability.AttrService.String(ev.Instance.ServiceName),
		observability.AttrInstance.String(ev.Instance.InstanceID),
		observability.AttrAction.String(string(ev.Action)),
		observability.Version(ev.Version),
	)
	defer span.End()

	payload, err := json.Marshal(messageFromEvent(ev))
	if err != nil {
		observability.Fail(span, err)
		r.log.Error("failed to encode replication message", logger.Fields("error", err.Error()))
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, r.cfg.PublishTimeout)
	defer cancel()
	if _, err := client.Publish(pubCtx, r.cfg.Channel, payload); err != nil {
		observability.Fail(span, err)
		r.log.Error("failed to publish change", logger.Fields(
			"error", err.Error(),
			"service", ev.Instance.ServiceName,
			"instance", ev.Instance.InstanceID,
			"version", ev.Version,
		))
		return
	}
	r.published.Add(1)
}

func (r *Replicator) receiveLoop(ctx context.Context, msgs <-chan *goredis.Message) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			r.apply(ctx, msg.Payload)
		}
	}
}

func (r *Replicator) apply(ctx context.Context, payload string) {
	m, err := decodeMessage(payload)
	if err != nil {
		r.rejected.Add(1)
		r.log.Error("dropping malformed replication message", logger.Fields("error", err.Error()))
		return
	}
	if m.OriginNodeID == r.reg.NodeID() {
		return
	}

	_, span := observability.StartSpan(ctx, "peer.apply",
		observability.AttrOrigin.String(m.OriginNodeID),
		observability.AttrService.String(m.Instance.ServiceName),
		observability.AttrAction.String(string(m.Action)),
	)
	defer span.End()

	if err := r.reg.ApplyRemoteUpdate(m.Instance, m.Action, m.OriginNodeID); err != nil {
		observability.Fail(span, err)
		r.rejected.Add(1)
		r.log.Error("failed to apply remote change", logger.Fields(
			"error", err.Error(),
			"origin", m.OriginNodeID,
			"service", m.Instance.ServiceName,
			"instance", m.Instance.InstanceID,
		))
		return
	}
	r.applied.Add(1)
}

func (r *Replicator) heartbeatLoop(ctx context.Context) {
	defer r.wg.Done()
	r.heartbeat(ctx)
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.heartbeat(ctx)
		}
	}
}

func (r *Replicator) heartbeat(ctx context.Context) {
	stats := r.reg.Stats()
	p := Presence{
		NodeID:    stats.NodeID,
		Version:   stats.Version,
		Instances: stats.Instances,
		SeenAt:    time.Now().UTC(),
	}
	if err := r.presence.Put(ctx, p.NodeID, p, r.cfg.presenceTTL()); err != nil && ctx.Err() == nil {
		r.log.Warn("failed to refresh presence", logger.Fields("error", err.Error()))
	}
	r.reap(ctx)
}

// reap removes records owned by peers whose presence record has lapsed.
// An origin must be absent on two consecutive reaps, so a peer whose first
// changes arrive before its first heartbeat is left alone.
func (r *Replicator) reap(ctx context.Context) {
	origins := r.reg.Origins()
	if len(origins) == 0 {
		r.absent = nil
		return
	}
	peers, err := r.Peers(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.log.Warn("failed to list peers", logger.Fields("error", err.Error()))
		}
		return
	}
	live := make(map[string]bool, len(peers))
	for _, p := range peers {
		live[p.NodeID] = true
	}

	absent := make(map[string]bool)
	for _, origin := range origins {
		if live[origin] {
			continue
		}
		if !r.absent[origin] {
			absent[origin] = true
			continue
		}
		n := r.reg.PurgeOrigin(origin)
		r.purged.Add(int64(n))
		r.log.Warn("peer presence lapsed, purged its records", logger.Fields("origin", origin, "purged", n))
	}
	r.absent = absent
}

// Peers lists the nodes with a live presence record, this node included,
// sorted by node id.
func (r *Replicator) Peers(ctx context.Context) ([]Presence, error) {
	r.mu.Lock()
	store := r.presence
	r.mu.Unlock()
	if store == nil {
		return nil, fmt.Errorf("peer replicator not started")
	}
	all, err := store.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Presence, 0, len(all))
	for _, p := range all {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out, nil
}

// Stats reports replication counters.
type Stats struct {
	Published int64 `json:"published"`
	Applied   int64 `json:"applied"`
	Rejected  int64 `json:"rejected"`
	Dropped   int64 `json:"dropped"`
	Purged    int64 `json:"purged"`
	Queued    int   `json:"queued"`
	// Pool is nil while the replicator is stopped.
	Pool *redis.PoolStats `json:"pool,omitempty"`
}

// Stats returns the replication counters.
func (r *Replicator) Stats() Stats {
	s := Stats{
		Published: r.published.Load(),
		Applied:   r.applied.Load(),
		Rejected:  r.rejected.Load(),
		Dropped:   r.dropped.Load(),
		Purged:    r.purged.Load(),
		Queued:    len(r.queue),
	}
	r.mu.Lock()
	if r.client != nil {
		pool := r.client.PoolStats()
		s.Pool = &pool
	}
	r.mu.Unlock()
	return s
}

// Health pings Redis. Dropped changes degrade the component because peers
// may have diverged until the owners next change.
func (r *Replicator) Health(ctx context.Context) component.Health {
	r.mu.Lock()
	client := r.client
	r.mu.Unlock()

	if client == nil {
		return component.Unhealthy(r.Name(), "not started")
	}
	if err := client.Ping(ctx); err != nil {
		return component.Unhealthy(r.Name(), err.Error())
	}
	if n := r.dropped.Load(); n > 0 {
		return component.Degraded(r.Name(), fmt.Sprintf("%d changes dropped", n))
	}
	return component.Healthy(r.Name())
}

// Describe returns infrastructure summary info for the bootstrap display.
func (r *Replicator) Describe() component.Description {
	return component.Description{
		Name:    "Peer replication",
		Type:    "redis",
		Details: fmt.Sprintf("%s channel=%s", r.cfg.Redis.Addr, r.cfg.Channel),
	}
}
