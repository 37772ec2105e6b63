package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/kbukum/regd/component"
	"github.com/kbukum/regd/config"
	"github.com/kbukum/regd/logger"
)

type testConfig struct {
	config.ServiceConfig
}

type mockComponent struct {
	name     string
	startErr error
	health   component.Health
	events   *[]string
}

func (m *mockComponent) Name() string { return m.name }
func (m *mockComponent) Start(ctx context.Context) error {
	*m.events = append(*m.events, "start:"+m.name)
	return m.startErr
}
func (m *mockComponent) Stop(ctx context.Context) error {
	*m.events = append(*m.events, "stop:"+m.name)
	return nil
}
func (m *mockComponent) Health(ctx context.Context) component.Health { return m.health }
func (m *mockComponent) Describe() component.Description {
	return component.Description{Type: "worker", Details: "interval=30s"}
}

func newTestApp(t *testing.T, opts ...Option) *App[*testConfig] {
	t.Helper()
	cfg := &testConfig{ServiceConfig: config.ServiceConfig{Name: "regd", Version: "1.0.0"}}
	opts = append([]Option{WithLogger(logger.NewNop()), WithSummaryOutput(io.Discard)}, opts...)
	app, err := NewApp(cfg, opts...)
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	return app
}

func TestNewApp(t *testing.T) {
	app := newTestApp(t)
	if app.Name != "regd" || app.Version != "1.0.0" {
		t.Errorf("unexpected identity %q %q", app.Name, app.Version)
	}
	if app.Cfg.Environment != "development" {
		t.Errorf("defaults not applied: %q", app.Cfg.Environment)
	}
	if app.Components == nil || app.Logger == nil || app.Summary == nil {
		t.Error("expected components, logger and summary to be set")
	}
}

func TestNewAppValidationError(t *testing.T) {
	_, err := NewApp(&testConfig{}, WithLogger(logger.NewNop()))
	if err == nil || !strings.Contains(err.Error(), "config validation") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	var events []string
	app := newTestApp(t, WithGracefulTimeout(time.Second))
	app.RegisterComponent(&mockComponent{name: "evictor", events: &events,
		health: component.Health{Name: "evictor", Status: component.StatusHealthy}})
	app.RegisterComponent(&mockComponent{name: "http", events: &events,
		health: component.Health{Name: "http", Status: component.StatusHealthy}})

	app.OnStart(func(ctx context.Context) error { events = append(events, "onStart"); return nil })
	app.OnReady(func(ctx context.Context) error { events = append(events, "onReady"); return nil })
	app.OnStop(func(ctx context.Context) error { events = append(events, "onStop"); return nil })

	ctx, cancel := context.WithCancel(context.Background())
	app.OnReady(func(ctx context.Context) error { cancel(); return nil })

	if err := app.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{
		"start:evictor", "start:http", "onStart", "onReady",
		"onStop", "stop:http", "stop:evictor",
	}
	if !reflect.DeepEqual(events, want) {
		t.Errorf("events = %v, want %v", events, want)
	}
}

func TestRunStartFailure(t *testing.T) {
	var events []string
	app := newTestApp(t)
	app.RegisterComponent(&mockComponent{name: "peer", events: &events, startErr: errors.New("dial tcp: refused")})

	if err := app.Run(context.Background()); err == nil {
		t.Fatal("expected start failure")
	}
}

func TestOnStartHookFailureStopsComponents(t *testing.T) {
	var events []string
	app := newTestApp(t)
	app.RegisterComponent(&mockComponent{name: "evictor", events: &events})
	app.OnStart(func(ctx context.Context) error { return errors.New("boom") })

	if err := app.Run(context.Background()); err == nil {
		t.Fatal("expected hook failure")
	}
	want := []string{"start:evictor", "stop:evictor"}
	if !reflect.DeepEqual(events, want) {
		t.Errorf("events = %v, want %v", events, want)
	}
}

func TestReadyCheck(t *testing.T) {
	var events []string
	app := newTestApp(t)
	app.RegisterComponent(&mockComponent{name: "peer", events: &events,
		health: component.Health{Name: "peer", Status: component.StatusUnhealthy, Message: "no redis"}})

	app.RegisterComponent(&mockComponent{name: "registry", events: &events,
		health: component.Degraded("registry", "self-preservation active")})

	err := app.ReadyCheck(context.Background())
	if err == nil || !strings.Contains(err.Error(), "peer=unhealthy(no redis)") {
		t.Fatalf("ReadyCheck = %v", err)
	}
	if strings.Contains(err.Error(), "registry") {
		t.Errorf("degraded component reported as not ready: %v", err)
	}
}

func TestSummaryDisplay(t *testing.T) {
	var events []string
	var buf bytes.Buffer
	reg := component.NewRegistry(nil)
	reg.Register(&mockComponent{name: "evictor", events: &events,
		health: component.Health{Status: component.StatusHealthy}})

	s := NewSummary("regd", "1.0.0", &buf)
	s.SetStartupDuration(250 * time.Millisecond)
	s.Display(context.Background(), reg)

	out := buf.String()
	for _, want := range []string{"regd 1.0.0 started in 0.25s", "evictor [worker]: interval=30s", "1/1 components healthy"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}
