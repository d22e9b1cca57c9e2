// Package telemetry provides observability instrumentation for Fleetyard.
//
// The telemetry package integrates structured logging (zerolog), distributed
// tracing (OpenTelemetry), and metrics (Prometheus) into a unified system for
// monitoring and debugging mission orchestration.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "fleetyard"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context
// propagation:
//
//	logger := tel.Logger.NewComponentLogger("orchestrator")
//	logger = logger.WithMissionID("wp-123").WithAgentID("agent-7")
//	logger.Info("Dispatching assignment")
//	logger.WithError(err).Error("Dispatch failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into mission flow and dispatch latency:
//
//	ctx, span := tel.Tracer.StartDispatchSpan(ctx, "route_planner", requestUID)
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
// Prometheus metrics track orchestration behavior:
//
//	tel.Metrics.IncMissionStarted("driving")
//	tel.Metrics.IncMissionCompleted("succeeded")
//	tel.Metrics.ObserveServiceDispatch("route_planner", true, duration)
//	tel.Metrics.IncAssignmentTerminal("completed")
//
// Metrics are exposed via HTTP at /metrics (default: :9090/metrics)
package telemetry
