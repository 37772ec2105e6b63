package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrStaleCursor is matched by errors.Is when a delta cursor falls outside
// the retained change log. The caller must fetch a full snapshot.
var ErrStaleCursor = errors.New("registry: stale delta cursor")

// StaleCursorError carries the rejected cursor and the current version.
type StaleCursorError struct {
	Since   uint64
	Current uint64
}

func (e *StaleCursorError) Error() string {
	return fmt.Sprintf("registry: stale delta cursor %d (current version %d)", e.Since, e.Current)
}

// Is makes errors.Is(err, ErrStaleCursor) succeed.
func (e *StaleCursorError) Is(target error) bool { return target == ErrStaleCursor }

// Change is one versioned mutation as seen by delta readers.
type Change struct {
	Version  uint64     `json:"version"`
	Action   ActionType `json:"action"`
	Instance Instance   `json:"instance"`

	at time.Time
}

// changeLog owns the version counter and a bounded ring of recent changes.
// Assigning a version and appending happen under one mutex so the ring is
// always contiguous and ordered.
type changeLog struct {
	mu      sync.Mutex
	version uint64
	ring    []Change
	start   int
	n       int
}

func newChangeLog(capacity int) *changeLog {
	return &changeLog{ring: make([]Change, capacity)}
}

// append assigns the next version to a change and retains it.
func (l *changeLog) append(action ActionType, inst Instance, at time.Time) Change {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.version++
	inst.ActionType = action
	ch := Change{Version: l.version, Action: action, Instance: inst, at: at}

	idx := (l.start + l.n) % len(l.ring)
	l.ring[idx] = ch
	if l.n < len(l.ring) {
		l.n++
	} else {
		l.start = (l.start + 1) % len(l.ring)
	}
	return ch
}

func (l *changeLog) current() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.version
}

// since returns the changes with version > v, oldest first.
func (l *changeLog) since(v uint64) (uint64, []Change, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v > l.version {
		return l.version, nil, &StaleCursorError{Since: v, Current: l.version}
	}
	if v == l.version {
		return l.version, []Change{}, nil
	}
	// Version v+1 must still be retained.
	if l.n == 0 || l.at(0).Version > v+1 {
		return l.version, nil, &StaleCursorError{Since: v, Current: l.version}
	}

	skip := int(v + 1 - l.at(0).Version)
	out := make([]Change, 0, l.n-skip)
	for i := skip; i < l.n; i++ {
		ch := l.at(i)
		ch.Instance = ch.Instance.Clone()
		out = append(out, ch)
	}
	return l.version, out, nil
}

// prune drops changes recorded before cutoff.
func (l *changeLog) prune(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	dropped := 0
	for l.n > 0 && l.at(0).at.Before(cutoff) {
		l.ring[l.start] = Change{}
		l.start = (l.start + 1) % len(l.ring)
		l.n--
		dropped++
	}
	return dropped
}

func (l *changeLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.n
}

// at returns the i-th retained change. Caller holds mu.
func (l *changeLog) at(i int) Change {
	return l.ring[(l.start+i)%len(l.ring)]
}
