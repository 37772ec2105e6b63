package registry

import (
	"strings"
	"sync"

	"github.com/kbukum/regd/errors"
	"github.com/kbukum/regd/logger"
)

// ChangeEvent is delivered to change listeners. NodeID is the node the
// change originated on.
type ChangeEvent struct {
	Version  uint64     `json:"version"`
	Action   ActionType `json:"action"`
	Instance Instance   `json:"instance"`
	NodeID   string     `json:"nodeId"`
}

func (ev ChangeEvent) clone() ChangeEvent {
	ev.Instance = ev.Instance.Clone()
	return ev
}

// ChangeListener receives change events. It runs synchronously on a
// writer's goroutine. A slow listener delays writers of the same shard but
// not other shards or snapshots. It must not call back into the registry's
// mutating methods; adapters hand events to a queue.
type ChangeListener func(ChangeEvent)

type listenerSet struct {
	mu     sync.RWMutex
	nextID int
	fns    []listenerEntry
}

type listenerEntry struct {
	id int
	fn ChangeListener
}

func (l *listenerSet) add(fn ChangeListener) func() {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.fns = append(l.fns, listenerEntry{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for i, e := range l.fns {
				if e.id == id {
					l.fns = append(l.fns[:i:i], l.fns[i+1:]...)
					return
				}
			}
		})
	}
}

func (l *listenerSet) notify(ev ChangeEvent) {
	l.mu.RLock()
	fns := l.fns
	l.mu.RUnlock()
	for _, e := range fns {
		e.fn(ev)
	}
}

// NodeID returns this registry's node id.
func (r *Registry) NodeID() string { return r.store.nodeID }

// OnLocalChange subscribes fn to changes that originate on this node.
// Changes applied through ApplyRemoteUpdate are not echoed.
func (r *Registry) OnLocalChange(fn ChangeListener) (unsubscribe func()) {
	return r.store.listeners.add(fn)
}

// OnChange subscribes fn to every change, including those applied through
// ApplyRemoteUpdate. Events arrive in version order per key.
func (r *Registry) OnChange(fn ChangeListener) (unsubscribe func()) {
	return r.store.watchers.add(fn)
}

// ApplyRemoteUpdate applies a change received from peer originNodeID.
// Changes that originated on this node are ignored. Peers own the records
// they send: such records are never swept here, and only the same origin
// can delete them.
func (r *Registry) ApplyRemoteUpdate(inst Instance, action ActionType, originNodeID string) error {
	if strings.TrimSpace(originNodeID) == "" {
		return errors.MissingField("originNodeId")
	}
	if originNodeID == r.store.nodeID {
		return nil
	}
	if !action.Valid() {
		return errors.MalformedInput("unknown action type: " + string(action))
	}
	if action == ActionDeleted {
		if inst.ServiceName == "" || inst.InstanceID == "" {
			return errors.MalformedInput("deleted instance must carry serviceName and instanceId")
		}
	} else if err := inst.Validate(); err != nil {
		return err
	}

	ch, applied := r.store.applyRemote(inst.Clone(), action, originNodeID)
	if applied {
		r.metrics.remoteApplied(action)
		r.log.Debug("remote change applied", r.changeFields(ch, "origin", originNodeID))
	} else {
		r.log.Debug("remote change ignored", map[string]interface{}{
			"service": inst.ServiceName, "instance": inst.InstanceID,
			"action": string(action), "origin": originNodeID,
		})
	}
	return nil
}

// Origins lists the peers that own at least one record here, sorted.
func (r *Registry) Origins() []string { return r.store.origins() }

// PurgeOrigin removes every record owned by originNodeID, typically after
// that peer has gone away without deleting them. Removals are versioned
// and reach OnChange subscribers but are not echoed to OnLocalChange.
func (r *Registry) PurgeOrigin(originNodeID string) int {
	if originNodeID == "" || originNodeID == r.store.nodeID {
		return 0
	}
	n := 0
	for _, k := range r.store.ownedBy(originNodeID) {
		ch, ok := r.store.applyRemote(Instance{ServiceName: k.ServiceName, InstanceID: k.InstanceID}, ActionDeleted, originNodeID)
		if !ok {
			continue
		}
		n++
		r.metrics.remoteApplied(ActionDeleted)
		r.log.Debug("peer record purged", r.changeFields(ch, "origin", originNodeID))
	}
	if n > 0 {
		r.log.Info("purged records of departed peer", logger.Fields("origin", originNodeID, "purged", n))
	}
	return n
}
