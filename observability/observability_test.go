package observability

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/kbukum/regd/component"
)

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	if cfg.Endpoint != "localhost:4318" {
		t.Errorf("Endpoint = %q", cfg.Endpoint)
	}
	if cfg.SampleRate != 1.0 {
		t.Errorf("SampleRate = %v", cfg.SampleRate)
	}
	if cfg.MetricInterval != 15*time.Second {
		t.Errorf("MetricInterval = %v", cfg.MetricInterval)
	}
	if cfg.Environment != "development" {
		t.Errorf("Environment = %q", cfg.Environment)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"disabled ignores fields", Config{SampleRate: 7}, false},
		{"valid", Config{Enabled: true, Endpoint: "otel:4318", SampleRate: 0.5}, false},
		{"missing endpoint", Config{Enabled: true, SampleRate: 1}, true},
		{"rate above one", Config{Enabled: true, Endpoint: "otel:4318", SampleRate: 1.5}, true},
		{"negative rate", Config{Enabled: true, Endpoint: "otel:4318", SampleRate: -0.1}, true},
		{"negative interval", Config{Enabled: true, Endpoint: "otel:4318", SampleRate: 1, MetricInterval: -time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1.0, "AlwaysOnSampler"},
		{2.0, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.rate), func(t *testing.T) {
			desc := newSampler(tt.rate).Description()
			want := "ParentBased{root:" + tt.want
			if len(desc) < len(want) || desc[:len(want)] != want {
				t.Errorf("Description() = %q, want prefix %q", desc, want)
			}
		})
	}
}

func TestNewResource(t *testing.T) {
	res, err := newResource("regd", "1.2.3", "staging")
	if err != nil {
		t.Fatalf("newResource: %v", err)
	}

	want := map[attribute.Key]string{
		semconv.ServiceNameKey:           "regd",
		semconv.ServiceVersionKey:        "1.2.3",
		semconv.DeploymentEnvironmentKey: "staging",
	}
	got := map[attribute.Key]string{}
	for _, kv := range res.Attributes() {
		got[kv.Key] = kv.Value.Emit()
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}

func TestTelemetryDisabled(t *testing.T) {
	tel := New(Config{}, "regd", "dev", nil)
	ctx := context.Background()

	if err := tel.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if tel.tracers != nil || tel.meters != nil {
		t.Error("providers must not be created when export is disabled")
	}
	if h := tel.Health(ctx); h.Status != component.StatusHealthy {
		t.Errorf("Health = %+v", h)
	}
	if d := tel.Describe(); d.Details != "disabled" {
		t.Errorf("Describe = %+v", d)
	}
	if err := tel.Stop(ctx); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return sr
}

func TestStartSpanAttributes(t *testing.T) {
	sr := withRecorder(t)

	_, span := StartSpan(context.Background(), "peer.publish",
		AttrService.String("orders"),
		Version(42),
	)
	span.End()

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name() != "peer.publish" {
		t.Errorf("Name = %q", spans[0].Name())
	}
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if attrs[AttrService].AsString() != "orders" {
		t.Errorf("%s = %v", AttrService, attrs[AttrService])
	}
	if attrs[AttrVersion].AsInt64() != 42 {
		t.Errorf("%s = %v", AttrVersion, attrs[AttrVersion])
	}
}

func TestFail(t *testing.T) {
	sr := withRecorder(t)

	_, span := StartSpan(context.Background(), "feed.write")
	Fail(span, nil)
	Fail(span, fmt.Errorf("broker unavailable"))
	span.End()

	s := sr.Ended()[0]
	if s.Status().Code != codes.Error {
		t.Errorf("Status = %v, want Error", s.Status())
	}
	if len(s.Events()) != 1 {
		t.Errorf("events = %d, want 1 exception event", len(s.Events()))
	}
}

func TestFailWithoutRecordingSpan(t *testing.T) {
	_, span := StartSpan(context.Background(), "noop")
	Fail(span, fmt.Errorf("x"))
	span.End()
}
