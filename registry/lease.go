package registry

import (
	"math"
	"time"

	"github.com/kbukum/regd/logger"
)

// Lease is the renewal contract attached 1:1 to an instance.
type Lease struct {
	Duration              time.Duration `json:"duration"`
	RegistrationTimestamp time.Time     `json:"registrationTimestamp"`
	LastRenewalTimestamp  time.Time     `json:"lastRenewalTimestamp"`
	EvictionTimestamp     time.Time     `json:"evictionTimestamp"`
}

func newLease(now time.Time, d time.Duration, leeway float64) Lease {
	l := Lease{Duration: d, RegistrationTimestamp: now}
	l.renew(now, leeway)
	return l
}

func (l *Lease) renew(now time.Time, leeway float64) {
	l.LastRenewalTimestamp = now
	l.EvictionTimestamp = deadline(now, l.Duration, leeway)
}

// deadline returns now + d*leeway, saturating instead of wrapping.
func deadline(now time.Time, d time.Duration, leeway float64) time.Time {
	span := float64(d) * leeway
	if span >= math.MaxInt64 {
		return now.Add(math.MaxInt64)
	}
	return now.Add(time.Duration(span))
}

// Expired reports whether the deadline has passed strictly before now.
func (l Lease) Expired(now time.Time) bool {
	return l.EvictionTimestamp.Before(now)
}

// SweepResult reports one eviction pass.
type SweepResult struct {
	// Expired lists local leases past their deadline when the sweep began.
	Expired []Key `json:"expired"`
	// Evicted lists the instances actually removed.
	Evicted []Key `json:"evicted"`
	// Suppressed is true when self-preservation blocked eviction.
	Suppressed bool `json:"suppressed"`
	// Pruned is the number of change log entries dropped by age.
	Pruned int `json:"pruned"`
}

// Sweep evicts at most one batch of expired local leases. The monitor is
// re-evaluated first; while self-preservation is active nothing is
// evicted. The renewal window is rolled after evaluation, and the change
// log is pruned by age.
func (r *Registry) Sweep(now time.Time) SweepResult {
	start := time.Now()
	scan := r.store.scan(now)
	res := SweepResult{Expired: scan.expired}

	avg := 0.0
	if scan.active > 0 {
		avg = scan.leaseSum.Seconds() / float64(scan.active)
	}
	r.monitor.Update(scan.active, avg)
	allowed := r.monitor.IsEvictionAllowed()
	r.monitor.Tick(now)

	switch {
	case len(scan.expired) == 0:
	case !allowed:
		res.Suppressed = true
		r.metrics.sweepSuppressed()
		stats := r.monitor.Stats()
		r.log.Warn("eviction suppressed by self-preservation", logger.Fields(
			"expired", len(scan.expired),
			"expected_per_min", stats.ExpectedRenewalsPerMinute,
			"actual_per_min", stats.ActualRenewalsPerMinute,
		))
	default:
		for _, k := range r.sampleBatch(scan.expired, r.batchLimit(scan.active)) {
			ch, ok := r.store.evictIfExpired(k, now)
			if !ok {
				continue
			}
			res.Evicted = append(res.Evicted, k)
			r.metrics.evicted(k.ServiceName)
			r.log.Info("instance evicted", r.changeFields(ch, "last_renewal", ch.Instance.LastRenewalTimestamp))
		}
		if skipped := len(scan.expired) - len(res.Evicted); skipped > 0 {
			r.log.Info("eviction batch limited", logger.Fields("expired", len(scan.expired), "evicted", len(res.Evicted)))
		}
	}

	res.Pruned = r.store.changes.prune(now.Add(-r.cfg.DeltaRetentionAge))
	r.metrics.sweepTook(time.Since(start).Seconds())
	return res
}

// batchLimit combines the self-preservation share with the configured cap.
func (r *Registry) batchLimit(activeLeases int) int {
	limit := r.monitor.MaxEvictions(activeLeases)
	if r.cfg.MaxEvictionsPerSweep > 0 && r.cfg.MaxEvictionsPerSweep < limit {
		limit = r.cfg.MaxEvictionsPerSweep
	}
	return limit
}

// sampleBatch picks up to n keys uniformly at random so one service is not
// drained first.
func (r *Registry) sampleBatch(keys []Key, n int) []Key {
	if n >= len(keys) {
		return keys
	}
	if n <= 0 {
		return nil
	}
	keys = append([]Key(nil), keys...)
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	for i := 0; i < n; i++ {
		j := i + r.rnd.Intn(len(keys)-i)
		keys[i], keys[j] = keys[j], keys[i]
	}
	return keys[:n]
}
