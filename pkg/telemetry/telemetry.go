package telemetry

import (
	"context"

	"github.com/hashicorp/go-multierror"

	"github.com/openfroyo/decom/pkg/engine"
)

// Telemetry bundles the logger, tracer and metrics of one invocation.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(ctx context.Context, cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(ctx, cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: NewMetrics(cfg.Metrics),
		Config:  cfg,
	}, nil
}

// OrchestratorOptions returns the options that attach tracing and metrics
// to an orchestrator.
func (t *Telemetry) OrchestratorOptions() []engine.Option {
	return []engine.Option{
		engine.WithTracer(t.Tracer.Tracer()),
		engine.WithObserver(t.Metrics),
	}
}

// Shutdown delivers metrics, flushes spans and closes the log output.
// Every step runs even when an earlier one fails.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var result *multierror.Error

	if err := t.Metrics.Deliver(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := t.Tracer.Shutdown(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := t.Logger.Close(); err != nil {
		result = multierror.Append(result, err)
	}

	return result.ErrorOrNil()
}
