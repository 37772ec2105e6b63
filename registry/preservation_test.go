package registry

import (
	"math"
	"testing"
	"time"

	"github.com/kbukum/regd/logger"
)

func newTestMonitor(disabled bool) *Monitor {
	cfg := SelfPreservationConfig{Disabled: disabled, RenewalPercentThreshold: 0.85, Window: time.Minute}
	return newMonitor(cfg, epoch, logger.NewNop())
}

func TestMonitorExpectedRate(t *testing.T) {
	tests := []struct {
		leases int
		avg    float64
		want   float64
	}{
		{0, 0, 0},
		{100, 30, 170},
		{10, 60, 8.5},
		{1, 15, 3.4},
	}
	for _, tt := range tests {
		m := newTestMonitor(false)
		m.Update(tt.leases, tt.avg)
		if got := m.Stats().ExpectedRenewalsPerMinute; math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Update(%d, %v): expected = %v, want %v", tt.leases, tt.avg, got, tt.want)
		}
	}
}

func TestMonitorWindowNormalizesToMinute(t *testing.T) {
	m := newTestMonitor(false)
	for i := 0; i < 30; i++ {
		m.RecordRenewal()
	}

	m.Tick(epoch.Add(30 * time.Second))
	if got := m.Stats().ActualRenewalsPerMinute; got != 0 {
		t.Fatalf("window not closed yet, actual = %v", got)
	}

	m.Tick(epoch.Add(2 * time.Minute))
	if got := m.Stats().ActualRenewalsPerMinute; got != 15 {
		t.Fatalf("30 renewals over 2m should be 15/min, got %v", got)
	}

	m.RecordRenewal()
	m.Tick(epoch.Add(3 * time.Minute))
	if got := m.Stats().ActualRenewalsPerMinute; got != 1 {
		t.Errorf("counter should reset between windows, got %v", got)
	}
}

func TestMonitorEvictionAllowed(t *testing.T) {
	tests := []struct {
		name     string
		disabled bool
		renewals int
		want     bool
	}{
		{"no renewals", false, 0, false},
		{"below threshold", false, 169, false},
		{"at threshold", false, 170, true},
		{"all renewing", false, 200, true},
		{"disabled", true, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMonitor(tt.disabled)
			for i := 0; i < tt.renewals; i++ {
				m.RecordRenewal()
			}
			m.Tick(epoch.Add(time.Minute))
			m.Update(100, 30)
			if got := m.IsEvictionAllowed(); got != tt.want {
				t.Errorf("IsEvictionAllowed = %v, want %v (%+v)", got, tt.want, m.Stats())
			}
			if m.Active() == tt.want && !tt.disabled {
				t.Errorf("Active should be the inverse of IsEvictionAllowed")
			}
		})
	}
}

func TestMonitorDeactivates(t *testing.T) {
	m := newTestMonitor(false)
	m.Update(10, 30)
	if m.IsEvictionAllowed() {
		t.Fatal("a fresh monitor has no renewal history and should protect")
	}
	for i := 0; i < 20; i++ {
		m.RecordRenewal()
	}
	m.Tick(epoch.Add(time.Minute))
	if !m.IsEvictionAllowed() || m.Active() {
		t.Errorf("expected deactivation, stats %+v", m.Stats())
	}
}

func TestMonitorMaxEvictions(t *testing.T) {
	m := newTestMonitor(false)
	if got := m.MaxEvictions(100); got != 15 {
		t.Errorf("MaxEvictions(100) = %d", got)
	}
	if got := newTestMonitor(true).MaxEvictions(100); got != 100 {
		t.Errorf("disabled MaxEvictions(100) = %d", got)
	}
}
