// Package observability wires OpenTelemetry tracing and metrics export.
//
// The Telemetry component installs the global tracer and meter providers on
// Start and flushes them on Stop. Instruments and tracers obtained from the
// otel globals before Start delegate to the installed providers, so callers
// may create them during wiring:
//
//	tel := observability.New(cfg, "regd", version.Get().Version, log)
//	reg, _ := registry.New(regCfg, log, registry.WithMeter(otel.Meter("regd")))
//	app.RegisterComponent(tel)
//
// Spans:
//
//	ctx, span := observability.StartSpan(ctx, "peer.publish", observability.AttrService.String(svc))
//	defer span.End()
//	if err := publish(ctx); err != nil {
//		observability.Fail(span, err)
//	}
package observability
