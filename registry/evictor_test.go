package registry

import (
	"context"
	"testing"
	"time"

	"github.com/kbukum/regd/component"
)

func TestEvictorLifecycle(t *testing.T) {
	reg, _ := newTestRegistry(t, func(c *Config) { c.SweepInterval = time.Hour })
	ev := NewEvictor(reg, nil)
	ctx := context.Background()

	if h := ev.Health(ctx); h.Status != component.StatusUnhealthy {
		t.Errorf("stopped evictor health = %s", h.Status)
	}
	if err := ev.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := ev.Start(ctx); err == nil {
		t.Error("second Start should fail")
	}
	if h := ev.Health(ctx); h.Status != component.StatusHealthy {
		t.Errorf("running evictor health = %s (%s)", h.Status, h.Message)
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := ev.Stop(stopCtx); err != nil {
		t.Fatal(err)
	}
	if err := ev.Stop(stopCtx); err != nil {
		t.Errorf("Stop should be idempotent, got %v", err)
	}
}

func TestEvictorOutlivesStartContext(t *testing.T) {
	reg, _ := newTestRegistry(t, func(c *Config) { c.SweepInterval = 5 * time.Millisecond })
	ev := NewEvictor(reg, nil)

	startCtx, cancel := context.WithCancel(context.Background())
	if err := ev.Start(startCtx); err != nil {
		t.Fatal(err)
	}
	cancel()
	defer func() { _ = ev.Stop(context.Background()) }()

	before := ev.Sweeps()
	deadline := time.Now().Add(2 * time.Second)
	for ev.Sweeps() <= before+1 {
		if time.Now().After(deadline) {
			t.Fatalf("sweeps stopped after the start context was cancelled (%d)", ev.Sweeps())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEvictorRunOnce(t *testing.T) {
	reg, fc := newTestRegistry(t, noPreservation)
	mustRegister(t, reg, inst("orders", "i-1"), time.Second)
	ev := NewEvictor(reg, nil)

	fc.Advance(10 * time.Second)
	res := ev.RunOnce(context.Background())
	if len(res.Evicted) != 1 {
		t.Fatalf("expected one eviction, got %+v", res)
	}
	if ev.Sweeps() != 1 {
		t.Errorf("Sweeps = %d", ev.Sweeps())
	}
}

func TestEvictorHealth(t *testing.T) {
	t.Run("degraded under self-preservation", func(t *testing.T) {
		reg, fc := newTestRegistry(t, func(c *Config) { c.SweepInterval = time.Hour })
		registerN(t, reg, "orders", 5, time.Second)
		ev := NewEvictor(reg, nil)
		if err := ev.Start(context.Background()); err != nil {
			t.Fatal(err)
		}
		defer ev.Stop(context.Background())

		fc.Advance(10 * time.Second)
		if res := ev.RunOnce(context.Background()); !res.Suppressed {
			t.Fatalf("expected suppressed sweep, got %+v", res)
		}
		if h := ev.Health(context.Background()); h.Status != component.StatusDegraded {
			t.Errorf("health = %s (%s)", h.Status, h.Message)
		}
	})

	t.Run("unhealthy when sweeps stall", func(t *testing.T) {
		reg, fc := newTestRegistry(t, func(c *Config) { c.SweepInterval = time.Hour })
		ev := NewEvictor(reg, nil)
		if err := ev.Start(context.Background()); err != nil {
			t.Fatal(err)
		}
		defer ev.Stop(context.Background())

		ev.RunOnce(context.Background())
		fc.Advance(4 * time.Hour)
		if h := ev.Health(context.Background()); h.Status != component.StatusUnhealthy {
			t.Errorf("health = %s (%s)", h.Status, h.Message)
		}
	})
}
