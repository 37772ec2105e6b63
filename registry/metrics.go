package registry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// instruments are the registry's OpenTelemetry instruments. With the
// default no-op meter every call is free.
type instruments struct {
	registrations metric.Int64Counter
	renewals      metric.Int64Counter
	renewalMisses metric.Int64Counter
	cancels       metric.Int64Counter
	statusChanges metric.Int64Counter
	evictions     metric.Int64Counter
	suppressed    metric.Int64Counter
	remote        metric.Int64Counter
	sweepDuration metric.Float64Histogram
}

func newInstruments(meter metric.Meter, r *Registry) (*instruments, error) {
	var (
		m   instruments
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.registrations, "regd.registrations", "Register calls accepted"},
		{&m.renewals, "regd.renewals", "Successful lease renewals"},
		{&m.renewalMisses, "regd.renewal_misses", "Renewals for unknown instances"},
		{&m.cancels, "regd.cancels", "Cancels that removed an instance"},
		{&m.statusChanges, "regd.status_changes", "Status updates applied"},
		{&m.evictions, "regd.evictions", "Instances evicted by the sweep"},
		{&m.suppressed, "regd.sweeps_suppressed", "Sweeps that skipped eviction under self-preservation"},
		{&m.remote, "regd.remote_changes", "Changes applied from peers"},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, fmt.Errorf("creating %s counter: %w", c.name, err)
		}
	}

	m.sweepDuration, err = meter.Float64Histogram("regd.sweep.duration",
		metric.WithDescription("Duration of eviction sweeps"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating regd.sweep.duration histogram: %w", err)
	}

	instances, err := meter.Int64ObservableGauge("regd.instances",
		metric.WithDescription("Registered instances"))
	if err != nil {
		return nil, fmt.Errorf("creating regd.instances gauge: %w", err)
	}
	preservation, err := meter.Int64ObservableGauge("regd.self_preservation.active",
		metric.WithDescription("1 while eviction is suspended"))
	if err != nil {
		return nil, fmt.Errorf("creating regd.self_preservation.active gauge: %w", err)
	}
	expected, err := meter.Float64ObservableGauge("regd.renewals.expected_per_minute",
		metric.WithDescription("Renewal rate the active leases promise"))
	if err != nil {
		return nil, fmt.Errorf("creating regd.renewals.expected_per_minute gauge: %w", err)
	}
	actual, err := meter.Float64ObservableGauge("regd.renewals.actual_per_minute",
		metric.WithDescription("Renewal rate of the last full window"))
	if err != nil {
		return nil, fmt.Errorf("creating regd.renewals.actual_per_minute gauge: %w", err)
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		stats := r.monitor.Stats()
		o.ObserveInt64(instances, int64(r.store.Len()))
		active := int64(0)
		if stats.Active {
			active = 1
		}
		o.ObserveInt64(preservation, active)
		o.ObserveFloat64(expected, stats.ExpectedRenewalsPerMinute)
		o.ObserveFloat64(actual, stats.ActualRenewalsPerMinute)
		return nil
	}, instances, preservation, expected, actual)
	if err != nil {
		return nil, fmt.Errorf("registering registry gauges: %w", err)
	}
	return &m, nil
}

func serviceAttr(service string) metric.AddOption {
	return metric.WithAttributes(attribute.String("service", service))
}

func (m *instruments) registered(service string, action ActionType) {
	m.registrations.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("service", service), attribute.String("action", string(action))))
}

func (m *instruments) renewed(service string) {
	m.renewals.Add(context.Background(), 1, serviceAttr(service))
}

func (m *instruments) renewalMissed(service string) {
	m.renewalMisses.Add(context.Background(), 1, serviceAttr(service))
}

func (m *instruments) cancelled(service string) {
	m.cancels.Add(context.Background(), 1, serviceAttr(service))
}

func (m *instruments) statusChanged(service string, status Status) {
	m.statusChanges.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("service", service), attribute.String("status", string(status))))
}

func (m *instruments) evicted(service string) {
	m.evictions.Add(context.Background(), 1, serviceAttr(service))
}

func (m *instruments) sweepSuppressed() {
	m.suppressed.Add(context.Background(), 1)
}

func (m *instruments) remoteApplied(action ActionType) {
	m.remote.Add(context.Background(), 1, metric.WithAttributes(attribute.String("action", string(action))))
}

func (m *instruments) sweepTook(seconds float64) {
	m.sweepDuration.Record(context.Background(), seconds)
}
