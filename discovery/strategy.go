package discovery

import (
	stderrors "errors"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/kbukum/regd/registry"
)

// ErrNoInstances is returned by Select when a service has no selectable
// instance.
var ErrNoInstances = stderrors.New("no instances available")

// Strategy selects one instance from a list.
type Strategy string

const (
	Random     Strategy = "random"
	RoundRobin Strategy = "round_robin"
	Weighted   Strategy = "weighted"
)

// WeightKey is the metadata key read by the Weighted strategy. Missing or
// invalid weights count as 1; zero excludes the instance.
const WeightKey = "weight"

// selector holds the state strategies need across calls.
type selector struct {
	mu      sync.Mutex
	rnd     *rand.Rand
	rrIndex map[string]int
}

func newSelector() *selector {
	return &selector{
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
		rrIndex: make(map[string]int),
	}
}

// pick applies strategy to instances, which must be in a stable order.
func (s *selector) pick(key string, instances []registry.Instance, strategy Strategy) (registry.Instance, error) {
	if len(instances) == 0 {
		return registry.Instance{}, ErrNoInstances
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch strategy {
	case RoundRobin:
		idx := s.rrIndex[key]
		inst := instances[idx%len(instances)]
		s.rrIndex[key] = (idx + 1) % len(instances)
		return inst, nil

	case Weighted:
		return s.selectWeighted(instances)

	case Random:
		fallthrough
	default:
		return instances[s.rnd.Intn(len(instances))], nil
	}
}

func (s *selector) selectWeighted(instances []registry.Instance) (registry.Instance, error) {
	total := 0
	for _, inst := range instances {
		total += weightOf(inst)
	}
	if total == 0 {
		return registry.Instance{}, ErrNoInstances
	}

	r := s.rnd.Intn(total)
	for _, inst := range instances {
		r -= weightOf(inst)
		if r < 0 {
			return inst, nil
		}
	}
	return instances[len(instances)-1], nil
}

func weightOf(inst registry.Instance) int {
	raw, ok := inst.Metadata[WeightKey]
	if !ok {
		return 1
	}
	w, err := strconv.Atoi(raw)
	if err != nil || w < 0 {
		return 1
	}
	return w
}
