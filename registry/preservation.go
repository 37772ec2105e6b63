package registry

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kbukum/regd/logger"
)

// RenewalStats is the monitor's view of the renewal rate.
type RenewalStats struct {
	Enabled                   bool    `json:"enabled"`
	Active                    bool    `json:"active"`
	ActiveLeases              int     `json:"activeLeases"`
	AverageLeaseSeconds       float64 `json:"averageLeaseSeconds"`
	ExpectedRenewalsPerMinute float64 `json:"expectedRenewalsPerMinute"`
	ActualRenewalsPerMinute   float64 `json:"actualRenewalsPerMinute"`
	Threshold                 float64 `json:"threshold"`
}

// Monitor decides whether eviction is allowed by comparing the renewal
// rate of the last full window with the rate the active leases promise.
type Monitor struct {
	cfg SelfPreservationConfig
	log *logger.Logger

	// renewals counts renew calls in the current window.
	renewals atomic.Int64

	mu          sync.Mutex
	windowStart time.Time
	actual      float64
	expected    float64
	leases      int
	avgLease    float64
	active      bool
}

func newMonitor(cfg SelfPreservationConfig, start time.Time, log *logger.Logger) *Monitor {
	return &Monitor{cfg: cfg, log: log, windowStart: start}
}

// RecordRenewal counts one successful renewal.
func (m *Monitor) RecordRenewal() {
	m.renewals.Add(1)
}

// Update recomputes the expected renewal rate from the local active
// leases: leases × (60 / average lease seconds) × threshold.
func (m *Monitor) Update(activeLeases int, averageLeaseSeconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.leases = activeLeases
	m.avgLease = averageLeaseSeconds
	m.expected = 0
	if activeLeases > 0 && averageLeaseSeconds > 0 {
		m.expected = float64(activeLeases) * (60 / averageLeaseSeconds) * m.cfg.RenewalPercentThreshold
	}
}

// IsEvictionAllowed reports false while self-preservation is active, i.e.
// the observed renewal rate is below the expected rate.
func (m *Monitor) IsEvictionAllowed() bool {
	if m.cfg.Disabled {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	active := m.actual < m.expected
	if active != m.active {
		fields := logger.Fields(
			"expected_per_min", m.expected,
			"actual_per_min", m.actual,
			"active_leases", m.leases,
		)
		if active {
			m.log.Warn("self-preservation activated: renewal rate below threshold, eviction suspended", fields)
		} else {
			m.log.Info("self-preservation deactivated: eviction resumed", fields)
		}
		m.active = active
	}
	return !active
}

// Tick closes the current window once it has lasted at least the
// configured length. The closed window's count, normalized to a minute,
// becomes the actual rate. Call after evaluation.
func (m *Monitor) Tick(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elapsed := now.Sub(m.windowStart)
	if elapsed < m.cfg.Window {
		return
	}
	count := m.renewals.Swap(0)
	m.actual = float64(count) * float64(time.Minute) / float64(elapsed)
	m.windowStart = now
}

// MaxEvictions returns how many of size local leases may be evicted in
// one sweep without dropping below the threshold share. At least one is
// allowed whenever there is a lease, so a threshold of 1 still drains.
func (m *Monitor) MaxEvictions(size int) int {
	if m.cfg.Disabled || size == 0 {
		return size
	}
	return max(1, size-int(math.Floor(float64(size)*m.cfg.RenewalPercentThreshold)))
}

// Active reports the last evaluated self-preservation state.
func (m *Monitor) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Stats returns the current renewal statistics.
func (m *Monitor) Stats() RenewalStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return RenewalStats{
		Enabled:                   !m.cfg.Disabled,
		Active:                    m.active,
		ActiveLeases:              m.leases,
		AverageLeaseSeconds:       m.avgLease,
		ExpectedRenewalsPerMinute: m.expected,
		ActualRenewalsPerMinute:   m.actual,
		Threshold:                 m.cfg.RenewalPercentThreshold,
	}
}
