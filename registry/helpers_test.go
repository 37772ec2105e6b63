package registry

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/kbukum/regd/clock"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig(mut ...func(*Config)) Config {
	cfg := Config{NodeID: "node-a", Shards: 8}
	for _, m := range mut {
		m(&cfg)
	}
	return cfg
}

func noPreservation(c *Config) { c.SelfPreservation.Disabled = true }

func newTestRegistry(t *testing.T, mut ...func(*Config)) (*Registry, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(epoch)
	reg, err := New(testConfig(mut...), nil, WithClock(fc), WithRand(rand.New(rand.NewSource(1))))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return reg, fc
}

func inst(service, id string) Instance {
	return Instance{
		ServiceName: service,
		InstanceID:  id,
		Host:        "10.0.0.1",
		Port:        8080,
		Status:      StatusUp,
		Metadata:    map[string]string{"zone": "a"},
	}
}

func mustRegister(t *testing.T, reg *Registry, i Instance, lease time.Duration) {
	t.Helper()
	if err := reg.Register(i, lease); err != nil {
		t.Fatalf("Register(%s): %v", i.Key(), err)
	}
}

func registerN(t *testing.T, reg *Registry, service string, n int, lease time.Duration) {
	t.Helper()
	for i := 0; i < n; i++ {
		mustRegister(t, reg, inst(service, fmt.Sprintf("i-%03d", i)), lease)
	}
}

// sameRegistration compares the caller-supplied fields of an instance.
func sameRegistration(a, b Instance) bool {
	if a.ServiceName != b.ServiceName || a.InstanceID != b.InstanceID ||
		a.Host != b.Host || a.Port != b.Port || a.Status != b.Status ||
		len(a.Metadata) != len(b.Metadata) {
		return false
	}
	for k, v := range a.Metadata {
		if b.Metadata[k] != v {
			return false
		}
	}
	return true
}
