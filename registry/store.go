package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/kbukum/regd/clock"
)

type record struct {
	inst  Instance
	lease Lease
}

// local reports whether this node owns the record's lease.
func (r *record) local() bool { return r.inst.Origin == "" }

type shard struct {
	mu      sync.RWMutex
	records map[Key]*record
	// pending holds changes not yet dispatched, in version order. It is
	// appended under mu and drained under notify, which no writer holds
	// while it owns mu or the view gate.
	pending []pendingEvent
	notify  sync.Mutex
}

type pendingEvent struct {
	ev    ChangeEvent
	local bool
}

// Store is the concurrent instance record store. Keys are striped over
// shards by xxhash; a write locks one shard and holds the view gate shared.
type Store struct {
	nodeID       string
	clock        clock.Clock
	leeway       float64
	defaultLease time.Duration
	maxLease     time.Duration

	gate      sync.RWMutex
	shards    []*shard
	changes   *changeLog
	listeners *listenerSet // local changes only
	watchers  *listenerSet // every change
}

func newStore(cfg Config, clk clock.Clock) *Store {
	s := &Store{
		nodeID:       cfg.NodeID,
		clock:        clk,
		leeway:       cfg.LeewayFactor,
		defaultLease: cfg.DefaultLeaseDuration,
		maxLease:     cfg.MaxLeaseDuration,
		shards:       make([]*shard, cfg.Shards),
		changes:      newChangeLog(cfg.DeltaRetention),
		listeners:    &listenerSet{},
		watchers:     &listenerSet{},
	}
	for i := range s.shards {
		s.shards[i] = &shard{records: make(map[Key]*record)}
	}
	return s
}

func (s *Store) shardFor(k Key) *shard {
	h := xxhash.New()
	_, _ = h.WriteString(k.ServiceName)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(k.InstanceID)
	return s.shards[h.Sum64()%uint64(len(s.shards))]
}

// mutate runs fn under the key's shard lock. When fn reports a change it
// is appended to the change log and queued on the shard; the queue is
// dispatched after every lock is released: local changes to listeners,
// every change to watchers. mutate returns once its change has been
// delivered, by this writer or by one draining ahead of it.
func (s *Store) mutate(k Key, fn func(sh *shard, now time.Time) (ActionType, Instance, bool)) (Change, bool) {
	s.gate.RLock()
	sh := s.shardFor(k)
	sh.mu.Lock()

	now := s.clock.Now()
	action, inst, changed := fn(sh, now)
	if !changed {
		sh.mu.Unlock()
		s.gate.RUnlock()
		return Change{}, false
	}
	ch := s.changes.append(action, inst.Clone(), now)
	origin, local := inst.Origin, inst.Origin == ""
	if local {
		origin = s.nodeID
	}
	sh.pending = append(sh.pending, pendingEvent{
		ev:    ChangeEvent{Version: ch.Version, Action: ch.Action, Instance: ch.Instance, NodeID: origin},
		local: local,
	})
	sh.mu.Unlock()
	s.gate.RUnlock()

	s.drain(sh)
	return ch, true
}

// drain dispatches the shard's queued changes until none are left.
func (s *Store) drain(sh *shard) {
	sh.notify.Lock()
	defer sh.notify.Unlock()
	for {
		sh.mu.Lock()
		batch := sh.pending
		sh.pending = nil
		sh.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, p := range batch {
			if p.local {
				s.listeners.notify(p.ev.clone())
			}
			s.watchers.notify(p.ev.clone())
		}
	}
}

// Register inserts or replaces inst and resets its lease. A zero
// leaseDuration uses the configured default.
func (s *Store) Register(inst Instance, leaseDuration time.Duration) (Change, error) {
	if err := inst.Validate(); err != nil {
		return Change{}, err
	}
	return s.upsert(inst.Clone(), leaseDuration, ""), nil
}

func (s *Store) upsert(inst Instance, leaseDuration time.Duration, origin string) Change {
	leaseDuration = s.boundLease(leaseDuration)
	if inst.Status == "" {
		inst.Status = StatusUp
	}
	inst.Origin = origin
	inst.LeaseDurationSeconds = int64(leaseDuration / time.Second)

	ch, _ := s.mutate(inst.Key(), func(sh *shard, now time.Time) (ActionType, Instance, bool) {
		action := ActionAdded
		if _, exists := sh.records[inst.Key()]; exists {
			action = ActionModified
		}
		rec := &record{inst: inst, lease: newLease(now, leaseDuration, s.leeway)}
		rec.inst.RegistrationTimestamp = now
		rec.inst.LastRenewalTimestamp = now
		rec.inst.ActionType = action
		sh.records[inst.Key()] = rec
		return action, rec.inst, true
	})
	return ch
}

// boundLease maps a non-positive lease to the default and caps it at the
// configured maximum. Peers may run with a larger maximum than ours.
func (s *Store) boundLease(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return s.defaultLease
	case d > s.maxLease:
		return s.maxLease
	}
	return d
}

// Cancel removes an instance and its lease. It reports false when the
// instance is absent.
func (s *Store) Cancel(serviceName, instanceID string) (Change, bool) {
	k := Key{ServiceName: serviceName, InstanceID: instanceID}
	return s.mutate(k, func(sh *shard, now time.Time) (ActionType, Instance, bool) {
		rec, ok := sh.records[k]
		if !ok {
			return "", Instance{}, false
		}
		delete(sh.records, k)
		return ActionDeleted, rec.inst, true
	})
}

// SetStatus changes an instance's status without touching its lease.
func (s *Store) SetStatus(serviceName, instanceID string, status Status) (Change, bool) {
	k := Key{ServiceName: serviceName, InstanceID: instanceID}
	return s.mutate(k, func(sh *shard, now time.Time) (ActionType, Instance, bool) {
		rec, ok := sh.records[k]
		if !ok {
			return "", Instance{}, false
		}
		rec.inst.Status = status
		rec.inst.ActionType = ActionModified
		return ActionModified, rec.inst, true
	})
}

// Get returns a copy of one instance.
func (s *Store) Get(serviceName, instanceID string) (Instance, bool) {
	k := Key{ServiceName: serviceName, InstanceID: instanceID}
	sh := s.shardFor(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	rec, ok := sh.records[k]
	if !ok {
		return Instance{}, false
	}
	return rec.inst.Clone(), true
}

// Lease returns a copy of one instance's lease.
func (s *Store) Lease(serviceName, instanceID string) (Lease, bool) {
	k := Key{ServiceName: serviceName, InstanceID: instanceID}
	sh := s.shardFor(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	rec, ok := sh.records[k]
	if !ok {
		return Lease{}, false
	}
	return rec.lease, true
}

// ListService returns copies of a service's instances sorted by instance id.
func (s *Store) ListService(serviceName string) []Instance {
	out := []Instance{}
	for _, sh := range s.shards {
		sh.mu.RLock()
		for k, rec := range sh.records {
			if k.ServiceName == serviceName {
				out = append(out, rec.inst.Clone())
			}
		}
		sh.mu.RUnlock()
	}
	sortInstances(out)
	return out
}

// renew refreshes a lease. A record owned by a peer is taken over by this
// node, which is a visible change and is versioned.
func (s *Store) renew(k Key) (renewed bool, takeover Change, tookOver bool) {
	sh := s.shardFor(k)
	sh.mu.Lock()
	rec, ok := sh.records[k]
	if !ok {
		sh.mu.Unlock()
		return false, Change{}, false
	}
	if rec.local() {
		now := s.clock.Now()
		rec.lease.renew(now, s.leeway)
		rec.inst.LastRenewalTimestamp = now
		sh.mu.Unlock()
		return true, Change{}, false
	}
	sh.mu.Unlock()

	ch, changed := s.mutate(k, func(sh *shard, now time.Time) (ActionType, Instance, bool) {
		rec, ok := sh.records[k]
		if !ok {
			return "", Instance{}, false
		}
		rec.inst.Origin = ""
		rec.lease.renew(now, s.leeway)
		rec.inst.LastRenewalTimestamp = now
		rec.inst.ActionType = ActionModified
		return ActionModified, rec.inst, true
	})
	return changed, ch, changed
}

// scanResult summarizes locally owned leases at one instant.
type scanResult struct {
	expired  []Key
	active   int
	leaseSum time.Duration
}

func (s *Store) scan(now time.Time) scanResult {
	var res scanResult
	for _, sh := range s.shards {
		sh.mu.RLock()
		for k, rec := range sh.records {
			if !rec.local() {
				continue
			}
			res.active++
			res.leaseSum += rec.lease.Duration
			if rec.lease.Expired(now) {
				res.expired = append(res.expired, k)
			}
		}
		sh.mu.RUnlock()
	}
	return res
}

// evictIfExpired deletes k if its local lease is still expired at now.
func (s *Store) evictIfExpired(k Key, now time.Time) (Change, bool) {
	return s.mutate(k, func(sh *shard, _ time.Time) (ActionType, Instance, bool) {
		rec, ok := sh.records[k]
		if !ok || !rec.local() || !rec.lease.Expired(now) {
			return "", Instance{}, false
		}
		delete(sh.records, k)
		return ActionDeleted, rec.inst, true
	})
}

// applyRemote applies a peer-owned change. A live local record is never
// overwritten or removed by a peer.
func (s *Store) applyRemote(inst Instance, action ActionType, origin string) (Change, bool) {
	k := inst.Key()
	if action == ActionDeleted {
		return s.mutate(k, func(sh *shard, _ time.Time) (ActionType, Instance, bool) {
			rec, ok := sh.records[k]
			if !ok || rec.inst.Origin != origin {
				return "", Instance{}, false
			}
			delete(sh.records, k)
			return ActionDeleted, rec.inst, true
		})
	}

	leaseDuration := s.maxLease
	if secs := inst.LeaseDurationSeconds; secs < int64(s.maxLease/time.Second) {
		leaseDuration = s.boundLease(time.Duration(secs) * time.Second)
	}
	inst.Origin = origin
	inst.LeaseDurationSeconds = int64(leaseDuration / time.Second)
	if inst.Status == "" {
		inst.Status = StatusUp
	}
	return s.mutate(k, func(sh *shard, now time.Time) (ActionType, Instance, bool) {
		next := ActionAdded
		if rec, ok := sh.records[k]; ok {
			if rec.local() && !rec.lease.Expired(now) {
				return "", Instance{}, false
			}
			next = ActionModified
		}
		rec := &record{inst: inst, lease: newLease(now, leaseDuration, s.leeway)}
		if rec.inst.RegistrationTimestamp.IsZero() {
			rec.inst.RegistrationTimestamp = now
		}
		if rec.inst.LastRenewalTimestamp.IsZero() {
			rec.inst.LastRenewalTimestamp = now
		}
		rec.inst.ActionType = next
		sh.records[k] = rec
		return next, rec.inst, true
	})
}

// origins returns the distinct owners of peer records.
func (s *Store) origins() []string {
	seen := make(map[string]struct{})
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, rec := range sh.records {
			if !rec.local() {
				seen[rec.inst.Origin] = struct{}{}
			}
		}
		sh.mu.RUnlock()
	}
	out := make([]string, 0, len(seen))
	for o := range seen {
		out = append(out, o)
	}
	sort.Strings(out)
	return out
}

// ownedBy lists the keys of records owned by origin.
func (s *Store) ownedBy(origin string) []Key {
	var keys []Key
	for _, sh := range s.shards {
		sh.mu.RLock()
		for k, rec := range sh.records {
			if rec.inst.Origin == origin {
				keys = append(keys, k)
			}
		}
		sh.mu.RUnlock()
	}
	return keys
}

// view copies every record under the exclusive view gate, returning the
// services map and the version it reflects.
func (s *Store) view() (uint64, map[string][]Instance) {
	services := make(map[string][]Instance)

	s.gate.Lock()
	for _, sh := range s.shards {
		sh.mu.RLock()
		for k, rec := range sh.records {
			services[k.ServiceName] = append(services[k.ServiceName], rec.inst.Clone())
		}
		sh.mu.RUnlock()
	}
	version := s.changes.current()
	s.gate.Unlock()

	for _, list := range services {
		sortInstances(list)
	}
	return version, services
}

// Len returns the number of stored instances.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.records)
		sh.mu.RUnlock()
	}
	return n
}

func sortInstances(list []Instance) {
	sort.Slice(list, func(i, j int) bool { return list[i].InstanceID < list[j].InstanceID })
}
