package registry

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/kbukum/regd/clock"
	"github.com/kbukum/regd/errors"
	"github.com/kbukum/regd/logger"
)

// Registry ties the store, the lease manager, the self-preservation
// monitor and the query service together. It is safe for concurrent use.
type Registry struct {
	cfg     Config
	log     *logger.Logger
	clock   clock.Clock
	store   *Store
	monitor *Monitor
	query   *QueryService
	metrics *instruments

	rndMu sync.Mutex
	rnd   *rand.Rand
}

// Option customizes a Registry.
type Option func(*options)

type options struct {
	clock clock.Clock
	meter metric.Meter
	rnd   *rand.Rand
}

// WithClock replaces the system clock, typically with a clock.Fake.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithMeter records registry metrics on m instead of a no-op meter.
func WithMeter(m metric.Meter) Option {
	return func(o *options) { o.meter = m }
}

// WithRand sets the source used to sample eviction batches.
func WithRand(r *rand.Rand) Option {
	return func(o *options) { o.rnd = r }
}

// New builds a registry. cfg is defaulted and validated.
func New(cfg Config, log *logger.Logger, opts ...Option) (*Registry, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clock.Real{}
	}
	if o.meter == nil {
		o.meter = noop.NewMeterProvider().Meter("regd/registry")
	}
	if o.rnd == nil {
		o.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if log == nil {
		log = logger.NewNop()
	}
	log = log.WithComponent("registry").WithFields(logger.Fields(logger.FieldNodeID, cfg.NodeID))

	store := newStore(cfg, o.clock)
	r := &Registry{
		cfg:     cfg,
		log:     log,
		clock:   o.clock,
		store:   store,
		monitor: newMonitor(cfg.SelfPreservation, o.clock.Now(), log),
		query:   newQueryService(store),
		rnd:     o.rnd,
	}
	m, err := newInstruments(o.meter, r)
	if err != nil {
		return nil, fmt.Errorf("registry metrics: %w", err)
	}
	r.metrics = m
	return r, nil
}

// Config returns the effective configuration.
func (r *Registry) Config() Config { return r.cfg }

// Register inserts or replaces inst and resets its lease. A zero
// leaseDuration uses the configured default. Missing or invalid fields
// yield a MALFORMED_INPUT *errors.AppError.
func (r *Registry) Register(inst Instance, leaseDuration time.Duration) error {
	if leaseDuration < 0 {
		return errors.MalformedInput("leaseDuration must not be negative").WithDetail("field", "leaseDuration")
	}
	if leaseDuration > r.cfg.MaxLeaseDuration {
		return errors.MalformedInput(fmt.Sprintf("leaseDuration must not exceed %s", r.cfg.MaxLeaseDuration)).
			WithDetail("field", "leaseDuration")
	}
	ch, err := r.store.Register(inst, leaseDuration)
	if err != nil {
		return err
	}
	r.metrics.registered(inst.ServiceName, ch.Action)
	r.log.Debug("instance registered", r.changeFields(ch))
	return nil
}

// Renew refreshes an instance's lease. False means the instance is unknown
// and the client must register again.
func (r *Registry) Renew(serviceName, instanceID string) bool {
	renewed, ch, tookOver := r.store.renew(Key{ServiceName: serviceName, InstanceID: instanceID})
	if !renewed {
		r.metrics.renewalMissed(serviceName)
		r.log.Debug("renewal for unknown instance", logger.InstanceFields(serviceName, instanceID))
		return false
	}
	r.monitor.RecordRenewal()
	r.metrics.renewed(serviceName)
	if tookOver {
		r.log.Info("took over lease from peer", r.changeFields(ch))
	}
	return true
}

// Cancel removes an instance. It reports false when the instance was not
// registered, which callers treat as success.
func (r *Registry) Cancel(serviceName, instanceID string) bool {
	ch, ok := r.store.Cancel(serviceName, instanceID)
	if !ok {
		return false
	}
	r.metrics.cancelled(serviceName)
	r.log.Debug("instance cancelled", r.changeFields(ch))
	return true
}

// SetStatus changes an instance's status without touching its lease.
func (r *Registry) SetStatus(serviceName, instanceID string, status Status) (bool, error) {
	if !status.Valid() {
		return false, errors.MalformedInput("unknown status: "+string(status)).WithDetail("field", "status")
	}
	ch, ok := r.store.SetStatus(serviceName, instanceID, status)
	if !ok {
		return false, nil
	}
	r.metrics.statusChanged(serviceName, status)
	r.log.Debug("instance status changed", r.changeFields(ch, logger.FieldStatus, string(status)))
	return true, nil
}

// GetInstance returns a copy of one instance.
func (r *Registry) GetInstance(serviceName, instanceID string) (Instance, bool) {
	return r.store.Get(serviceName, instanceID)
}

// GetLease returns a copy of one instance's lease.
func (r *Registry) GetLease(serviceName, instanceID string) (Lease, bool) {
	return r.store.Lease(serviceName, instanceID)
}

// GetInstancesByService returns a service's instances sorted by instance id.
func (r *Registry) GetInstancesByService(serviceName string) []Instance {
	return r.store.ListService(serviceName)
}

// GetSnapshot returns a consistent point-in-time view.
func (r *Registry) GetSnapshot() *Snapshot { return r.query.GetSnapshot() }

// GetDelta returns the changes after sinceVersion.
func (r *Registry) GetDelta(sinceVersion uint64) (Delta, error) {
	return r.query.GetDelta(sinceVersion)
}

// Version returns the current registry version.
func (r *Registry) Version() uint64 { return r.query.Version() }

// Stats summarizes the registry.
type Stats struct {
	NodeID            string       `json:"nodeId"`
	Version           uint64       `json:"version"`
	Instances         int          `json:"instances"`
	Services          int          `json:"services"`
	RetainedChanges   int          `json:"retainedChanges"`
	Renewals          RenewalStats `json:"renewals"`
	LeewayFactor      float64      `json:"leewayFactor"`
	DefaultLeaseSecs  int64        `json:"defaultLeaseSeconds"`
	SweepIntervalSecs int64        `json:"sweepIntervalSeconds"`
}

// Stats returns instance counts, the version and renewal statistics.
func (r *Registry) Stats() Stats {
	snap := r.GetSnapshot()
	return Stats{
		NodeID:            r.cfg.NodeID,
		Version:           snap.Version(),
		Instances:         snap.Len(),
		Services:          len(snap.Services()),
		RetainedChanges:   r.store.changes.len(),
		Renewals:          r.monitor.Stats(),
		LeewayFactor:      r.cfg.LeewayFactor,
		DefaultLeaseSecs:  int64(r.cfg.DefaultLeaseDuration / time.Second),
		SweepIntervalSecs: int64(r.cfg.SweepInterval / time.Second),
	}
}

func (r *Registry) changeFields(ch Change, kvs ...interface{}) map[string]interface{} {
	f := logger.Fields(kvs...)
	f[logger.FieldService] = ch.Instance.ServiceName
	f[logger.FieldInstance] = ch.Instance.InstanceID
	f[logger.FieldVersion] = ch.Version
	f["action"] = string(ch.Action)
	return f
}
