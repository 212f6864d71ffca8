// Package telemetry carries the observability stack of a decom invocation.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry) and
// run metrics (Prometheus) behind one Telemetry value built from Config.
//
// # Logging
//
// Every component logs through a child logger carrying a "component" field:
//
//	tel, err := telemetry.NewTelemetry(ctx, cfg)
//	log := tel.Logger.Component("remover")
//	log.Warn().Str("target", path).Msg("Removal retried")
//
// Console output is meant for an operator at a terminal; json output is
// meant for log shipping from managed endpoints.
//
// # Tracing
//
// The tracer exports spans to stdout or an OTLP gRPC collector. With the
// "none" exporter a no-op tracer is returned, so the orchestrator can always
// be given one:
//
//	o, err := engine.NewOrchestrator(host, knowledge, settings, logger,
//	    tel.OrchestratorOptions()...)
//
// # Metrics
//
// Metrics is an engine.Observer and keeps its own registry. A run is a
// short-lived process, so nothing is served over HTTP. Metrics are written
// to a textfile collector file and/or pushed to a Pushgateway when the run
// ends:
//
//	decom_runs_total{state}
//	decom_run_duration_seconds
//	decom_actions_total{phase,kind,status}
//	decom_retry_attempts_total{kind}
//	decom_residuals{kind}
//	decom_dependents_suspended
//	decom_last_run_timestamp_seconds{state}
//
// Shutdown delivers metrics, flushes spans and closes the log file.
package telemetry
