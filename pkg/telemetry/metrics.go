package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/openfroyo/decom/pkg/engine"
)

// Metrics collects run metrics in a private registry. It is an
// engine.Observer. A decom run is a short-lived process, so metrics are
// delivered at the end through a textfile or a Pushgateway.
type Metrics struct {
	config MetricsConfig

	runs         *prometheus.CounterVec
	runDuration  prometheus.Histogram
	actions      *prometheus.CounterVec
	retries      *prometheus.CounterVec
	residuals    *prometheus.GaugeVec
	suspended    prometheus.Gauge
	lastRunState *prometheus.GaugeVec

	registry *prometheus.Registry
}

var _ engine.Observer = (*Metrics)(nil)

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) *Metrics {
	namespace := cfg.Namespace
	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of runs by final state",
			},
			[]string{"state"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall time of a run in seconds",
				Buckets:   buckets,
			},
		),
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_total",
				Help:      "Total number of recorded actions",
			},
			[]string{"phase", "kind", "status"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Attempts beyond the first made by retried removals",
			},
			[]string{"kind"},
		),
		residuals: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "residuals",
				Help:      "Items found by verification after the last run",
			},
			[]string{"kind"},
		),
		suspended: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "dependents_suspended",
				Help:      "Services stopped and restored around removal in the last run",
			},
		),
		lastRunState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Completion time of the last run by final state",
			},
			[]string{"state"},
		),
	}

	registry.MustRegister(
		m.runs,
		m.runDuration,
		m.actions,
		m.retries,
		m.residuals,
		m.suspended,
		m.lastRunState,
	)

	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RunStarted implements engine.Observer.
func (m *Metrics) RunStarted(context.Context, string, string) {}

// StateChanged implements engine.Observer.
func (m *Metrics) StateChanged(context.Context, string, engine.RunState, engine.RunState) {}

// ActionRecorded counts the action and its retries.
func (m *Metrics) ActionRecorded(_ context.Context, _ string, action engine.ActionRecord) {
	m.actions.WithLabelValues(string(action.Phase), string(action.Kind), string(action.Status)).Inc()
	if action.Attempts > 1 {
		m.retries.WithLabelValues(string(action.Kind)).Add(float64(action.Attempts - 1))
	}
}

// RunFinished records the final state, duration and residuals.
func (m *Metrics) RunFinished(_ context.Context, report *engine.RunReport) {
	m.runs.WithLabelValues(string(report.State)).Inc()
	m.runDuration.Observe(report.Duration().Seconds())
	m.suspended.Set(float64(report.Suspended))
	m.lastRunState.WithLabelValues(string(report.State)).Set(float64(report.CompletedAt.Unix()))

	counts := map[string]float64{
		string(engine.TargetFileTree): 0,
		"service":                     0,
	}
	if report.Outcome != nil {
		for _, t := range report.Outcome.ResidualTargets {
			counts[string(t.Kind)]++
		}
		counts["service"] += float64(len(report.Outcome.ResidualServices))
	}
	for kind, n := range counts {
		m.residuals.WithLabelValues(kind).Set(n)
	}
}

// Deliver writes the textfile and pushes to the Pushgateway, whichever are
// configured.
func (m *Metrics) Deliver(ctx context.Context) error {
	if m.config.Textfile != "" {
		if err := prometheus.WriteToTextfile(m.config.Textfile, m.registry); err != nil {
			return fmt.Errorf("failed to write metrics textfile: %w", err)
		}
	}
	if m.config.Pushgateway != "" {
		err := push.New(m.config.Pushgateway, m.config.Job).
			Gatherer(m.registry).
			PushContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to push metrics: %w", err)
		}
	}
	return nil
}
