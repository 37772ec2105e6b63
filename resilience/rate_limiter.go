package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kbukum/regd/clock"
)

// ErrRateLimited is returned by Execute when no token is available.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimiterConfig configures a token bucket.
type RateLimiterConfig struct {
	// Name identifies this limiter in logs.
	Name string
	// Rate is the number of tokens added per second.
	Rate float64
	// Burst is the bucket capacity.
	Burst int
	// OnLimit is called when a request is rejected.
	OnLimit func(name string)
	// Clock defaults to the system clock.
	Clock clock.Clock
}

// DefaultRateLimiterConfig returns sensible defaults.
func DefaultRateLimiterConfig(name string) RateLimiterConfig {
	return RateLimiterConfig{
		Name:  name,
		Rate:  50,
		Burst: 100,
	}
}

// RateLimiter is a token bucket driven by the configured clock, so tests
// can advance time without sleeping.
type RateLimiter struct {
	config RateLimiterConfig
	lim    *rate.Limiter
}

// NewRateLimiter creates a full bucket.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.Rate <= 0 {
		config.Rate = 10.0
	}
	if config.Burst <= 0 {
		config.Burst = max(int(config.Rate), 1)
	}
	if config.Clock == nil {
		config.Clock = clock.Real{}
	}
	return &RateLimiter{config: config, lim: rate.NewLimiter(rate.Limit(config.Rate), config.Burst)}
}

// Allow takes one token if available.
func (rl *RateLimiter) Allow() bool {
	return rl.AllowN(1)
}

// AllowN takes n tokens if available.
func (rl *RateLimiter) AllowN(n int) bool {
	if rl.lim.AllowN(rl.config.Clock.Now(), n) {
		return true
	}
	if rl.config.OnLimit != nil {
		rl.config.OnLimit(rl.config.Name)
	}
	return false
}

// Wait blocks until a token is available or ctx is done. A canceled wait
// gives its token back.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	now := rl.config.Clock.Now()
	r := rl.lim.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		r.CancelAt(rl.config.Clock.Now())
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Execute runs fn if a token is available.
func (rl *RateLimiter) Execute(fn func() error) error {
	if !rl.Allow() {
		return ErrRateLimited
	}
	return fn()
}

// Tokens returns the current number of available tokens.
func (rl *RateLimiter) Tokens() float64 {
	return rl.lim.TokensAt(rl.config.Clock.Now())
}

// RetryAfter estimates how long until one token is available.
func (rl *RateLimiter) RetryAfter() time.Duration {
	now := rl.config.Clock.Now()
	r := rl.lim.ReserveN(now, 1)
	defer r.CancelAt(now)
	return r.DelayFrom(now)
}

// KeyedRateLimiter keeps one bucket per key, typically a client IP.
// Buckets idle for longer than IdleTTL are dropped on the next Allow.
type KeyedRateLimiter struct {
	config  RateLimiterConfig
	idleTTL time.Duration

	mu        sync.Mutex
	buckets   map[string]*keyedBucket
	lastSweep time.Time
}

type keyedBucket struct {
	limiter  *RateLimiter
	lastSeen time.Time
}

// NewKeyedRateLimiter creates a per-key limiter. idleTTL <= 0 means 10m.
func NewKeyedRateLimiter(config RateLimiterConfig, idleTTL time.Duration) *KeyedRateLimiter {
	if config.Clock == nil {
		config.Clock = clock.Real{}
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &KeyedRateLimiter{
		config:    config,
		idleTTL:   idleTTL,
		buckets:   make(map[string]*keyedBucket),
		lastSweep: config.Clock.Now(),
	}
}

// Allow takes a token from key's bucket.
func (k *KeyedRateLimiter) Allow(key string) bool {
	return k.bucket(key).Allow()
}

// RetryAfter estimates the wait for key.
func (k *KeyedRateLimiter) RetryAfter(key string) time.Duration {
	return k.bucket(key).RetryAfter()
}

// Len returns the number of tracked keys.
func (k *KeyedRateLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}

func (k *KeyedRateLimiter) bucket(key string) *RateLimiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.config.Clock.Now()
	if now.Sub(k.lastSweep) >= k.idleTTL {
		for kk, b := range k.buckets {
			if now.Sub(b.lastSeen) >= k.idleTTL {
				delete(k.buckets, kk)
			}
		}
		k.lastSweep = now
	}

	b, ok := k.buckets[key]
	if !ok {
		cfg := k.config
		cfg.Name = key
		b = &keyedBucket{limiter: NewRateLimiter(cfg)}
		k.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter
}
