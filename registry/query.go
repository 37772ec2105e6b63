package registry

import (
	"encoding/json"
	"sort"
	"sync"
)

// Snapshot is an immutable point-in-time view of the registry. Snapshots
// are shared between readers; accessors return copies.
type Snapshot struct {
	version  uint64
	services map[string][]Instance

	once    sync.Once
	encoded []byte
	encErr  error
}

// Version is the registry version the snapshot reflects.
func (s *Snapshot) Version() uint64 { return s.version }

// Services returns the service names in sorted order.
func (s *Snapshot) Services() []string {
	names := make([]string, 0, len(s.services))
	for name := range s.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Instances returns copies of a service's instances sorted by instance id.
func (s *Snapshot) Instances(serviceName string) []Instance {
	src := s.services[serviceName]
	out := make([]Instance, len(src))
	for i, inst := range src {
		out[i] = inst.Clone()
	}
	return out
}

// Len returns the total number of instances.
func (s *Snapshot) Len() int {
	n := 0
	for _, list := range s.services {
		n += len(list)
	}
	return n
}

type snapshotJSON struct {
	Version  uint64                `json:"version"`
	Services map[string][]Instance `json:"services"`
}

// MarshalJSON encodes {version, services} once and reuses the bytes.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	s.once.Do(func() {
		s.encoded, s.encErr = json.Marshal(snapshotJSON{Version: s.version, Services: s.services})
	})
	return s.encoded, s.encErr
}

// Delta is the ordered list of changes after a cursor.
type Delta struct {
	Version uint64   `json:"version"`
	Changes []Change `json:"changes"`
}

// QueryService serves discovery reads.
type QueryService struct {
	store *Store

	mu     sync.Mutex
	cached *Snapshot
}

func newQueryService(store *Store) *QueryService {
	return &QueryService{store: store}
}

// GetSnapshot returns the current view, reusing the previous one while the
// version has not moved. Renewals do not move the version, so renewal
// timestamps in a reused snapshot can lag.
func (q *QueryService) GetSnapshot() *Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cached != nil && q.cached.version == q.store.changes.current() {
		return q.cached
	}
	version, services := q.store.view()
	q.cached = &Snapshot{version: version, services: services}
	return q.cached
}

// GetDelta returns the changes after sinceVersion in version order. It
// fails with an error matching ErrStaleCursor when the cursor is no longer
// retained or is ahead of the registry.
func (q *QueryService) GetDelta(sinceVersion uint64) (Delta, error) {
	version, changes, err := q.store.changes.since(sinceVersion)
	if err != nil {
		return Delta{Version: version}, err
	}
	return Delta{Version: version, Changes: changes}, nil
}

// Version returns the current registry version.
func (q *QueryService) Version() uint64 {
	return q.store.changes.current()
}
