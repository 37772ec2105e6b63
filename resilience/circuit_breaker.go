package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/kbukum/regd/clock"
)

// State is a circuit breaker position.
type State int

const (
	StateClosed   State = iota // calls pass
	StateOpen                  // calls fail fast with ErrCircuitOpen
	StateHalfOpen              // a few trial calls decide
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// ErrCircuitOpen is returned without calling the wrapped function.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies the guarded endpoint in logs.
	Name string
	// MaxFailures consecutive failures open the circuit.
	MaxFailures int
	// Timeout is how long the circuit stays open before trial calls.
	Timeout time.Duration
	// HalfOpenMaxCalls trial calls must all succeed to close the circuit.
	HalfOpenMaxCalls int
	// IsFailure decides whether an error counts against the endpoint.
	// Defaults to any non-nil error.
	IsFailure     func(error) bool
	OnStateChange func(name string, from, to State)
	Clock         clock.Clock
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		MaxFailures:      5,
		Timeout:          30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// Counts are the breaker's counters for its current generation. They reset
// on every state change.
type Counts struct {
	Requests             int `json:"requests"`
	Successes            int `json:"successes"`
	Failures             int `json:"failures"`
	ConsecutiveFailures  int `json:"consecutiveFailures"`
	ConsecutiveSuccesses int `json:"consecutiveSuccesses"`
}

func (c *Counts) success() {
	c.Successes++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) failure() {
	c.Failures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// CircuitBreaker fails fast against an endpoint that keeps failing.
//
// Every state change starts a new generation. A call's result only counts
// toward the generation that admitted it, so a slow call admitted before
// the circuit opened cannot close it again.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	openUntil  time.Time
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig(cfg.Name)
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	return &CircuitBreaker{cfg: cfg}
}

// Name returns the configured name.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute runs fn unless the circuit is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	gen, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(gen, err)
	return err
}

// Allow reports whether Execute would currently run its function. It does
// not reserve a half-open trial slot.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	state, _ := cb.current(cb.cfg.Clock.Now())
	return state == StateClosed ||
		state == StateHalfOpen && cb.counts.Requests < cb.cfg.HalfOpenMaxCalls
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	state, _ := cb.current(cb.cfg.Clock.Now())
	return state
}

// Counts returns the counters of the current generation.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.current(cb.cfg.Clock.Now())
	return cb.counts
}

// Reset closes the circuit.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateClosed, cb.cfg.Clock.Now())
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, gen := cb.current(cb.cfg.Clock.Now())
	switch {
	case state == StateOpen:
		return gen, ErrCircuitOpen
	case state == StateHalfOpen && cb.counts.Requests >= cb.cfg.HalfOpenMaxCalls:
		return gen, ErrCircuitOpen
	}
	cb.counts.Requests++
	return gen, nil
}

func (cb *CircuitBreaker) settle(gen uint64, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.cfg.Clock.Now()
	state, current := cb.current(now)
	if gen != current {
		return
	}

	if !cb.cfg.IsFailure(err) {
		cb.counts.success()
		if state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.cfg.HalfOpenMaxCalls {
			cb.setState(StateClosed, now)
		}
		return
	}

	cb.counts.failure()
	if state == StateHalfOpen || cb.counts.ConsecutiveFailures >= cb.cfg.MaxFailures {
		cb.setState(StateOpen, now)
	}
}

// current moves an expired open circuit to half-open. Caller holds mu.
func (cb *CircuitBreaker) current(now time.Time) (State, uint64) {
	if cb.state == StateOpen && !now.Before(cb.openUntil) {
		cb.setState(StateHalfOpen, now)
	}
	return cb.state, cb.generation
}

func (cb *CircuitBreaker) setState(to State, now time.Time) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.generation++
	cb.counts = Counts{}
	if to == StateOpen {
		cb.openUntil = now.Add(cb.cfg.Timeout)
	}
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}
