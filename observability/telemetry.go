package observability

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/kbukum/regd/component"
	"github.com/kbukum/regd/logger"
)

// Telemetry owns the process-wide tracer and meter providers.
type Telemetry struct {
	cfg            Config
	serviceName    string
	serviceVersion string
	log            *logger.Logger

	mu      sync.Mutex
	tracers *sdktrace.TracerProvider
	meters  *sdkmetric.MeterProvider
}

var (
	_ component.Component   = (*Telemetry)(nil)
	_ component.Describable = (*Telemetry)(nil)
)

// New creates the telemetry component. Nothing is exported until Start.
func New(cfg Config, serviceName, serviceVersion string, log *logger.Logger) *Telemetry {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	return &Telemetry{
		cfg:            cfg,
		serviceName:    serviceName,
		serviceVersion: serviceVersion,
		log:            log.WithComponent("telemetry"),
	}
}

// Name returns the component name.
func (t *Telemetry) Name() string { return "telemetry" }

// Start installs the OTLP providers as the otel globals when enabled.
func (t *Telemetry) Start(ctx context.Context) error {
	installPropagator()
	if !t.cfg.Enabled {
		t.log.Debug("telemetry export disabled")
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tracers != nil {
		return fmt.Errorf("telemetry already started")
	}

	res, err := newResource(t.serviceName, t.serviceVersion, t.cfg.Environment)
	if err != nil {
		return fmt.Errorf("creating resource: %w", err)
	}
	tp, err := newTracerProvider(ctx, t.cfg, res)
	if err != nil {
		return err
	}
	mp, err := newMeterProvider(ctx, t.cfg, res)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return err
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	t.tracers, t.meters = tp, mp

	t.log.Info("telemetry initialized", logger.Fields(
		"endpoint", t.cfg.Endpoint,
		"sample_rate", t.cfg.SampleRate,
		"metric_interval", t.cfg.MetricInterval.String(),
	))
	return nil
}

// Stop flushes and shuts down the providers.
func (t *Telemetry) Stop(ctx context.Context) error {
	t.mu.Lock()
	tp, mp := t.tracers, t.meters
	t.tracers, t.meters = nil, nil
	t.mu.Unlock()

	var errs []error
	if tp != nil {
		if err := tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}
	if mp != nil {
		if err := mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Health is always healthy; export failures are logged by the SDK.
func (t *Telemetry) Health(ctx context.Context) component.Health {
	msg := "export disabled"
	if t.cfg.Enabled {
		msg = "exporting to " + t.cfg.Endpoint
	}
	return component.Health{Name: t.Name(), Status: component.StatusHealthy, Message: msg}
}

// Describe reports the collector endpoint for the startup summary.
func (t *Telemetry) Describe() component.Description {
	details := "disabled"
	if t.cfg.Enabled {
		details = fmt.Sprintf("otlp http://%s sample=%.2f", t.cfg.Endpoint, t.cfg.SampleRate)
	}
	return component.Description{Type: "telemetry", Details: details}
}
