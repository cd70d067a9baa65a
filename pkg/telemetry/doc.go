// Package telemetry provides unified observability for Castellan, combining
// structured logging (zerolog), distributed tracing (OpenTelemetry),
// Prometheus metrics, and an async event bus.
//
// # Quick Start
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx := tel.WithContext(context.Background())
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context propagation:
//
//	logger := tel.Logger.NewComponentLogger("pipeline")
//	logger = logger.WithDeploymentID("dep-123").WithStage("content")
//	logger.Info("Starting stage")
//	logger.WithError(err).Error("Stage failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into deployment flow and performance:
//
//	ctx, span := tel.Tracer.StartStageSpan(ctx, deploymentID, "infrastructure")
//	defer span.End()
//
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP (production), Stdout (development)
//
// # Metrics
//
// Prometheus metrics track deployment behavior:
//
//	tel.Metrics.RecordDeploymentStarted(scope)
//	tel.Metrics.RecordStageExecution("content", "succeeded", duration)
//	tel.Metrics.RecordReconcileOutcome("entity-analytics", "configured")
//	tel.Metrics.RecordRuleOutcome("created")
//
// Metrics are exposed via HTTP at /metrics (default: :9090/metrics)
//
// # Event Publishing
//
// The event system provides async publishing with buffering and filtering:
//
//	tel.Events.PublishStageCompleted(deploymentID, "content", duration)
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    // forward to an audit sink
//	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))
package telemetry
