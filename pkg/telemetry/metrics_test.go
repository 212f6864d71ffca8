package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/openfroyo/decom/pkg/engine"
)

func testMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetrics(DefaultConfig().Metrics)
}

func TestMetrics_ActionRecorded(t *testing.T) {
	m := testMetrics(t)
	ctx := context.Background()

	m.ActionRecorded(ctx, "run-1", engine.ActionRecord{
		Phase: engine.PhaseRemoveTargets, Kind: engine.ActionFileTree,
		Subject: `C:\Program Files\Contoso`, Status: engine.ResultRemoved, Attempts: 3,
	})
	m.ActionRecorded(ctx, "run-1", engine.ActionRecord{
		Phase: engine.PhaseRemoveTargets, Kind: engine.ActionConfigEntry,
		Subject: `HKLM\SOFTWARE\Contoso`, Status: engine.ResultRemoved, Attempts: 1,
	})

	removed := testutil.ToFloat64(m.actions.WithLabelValues("remove_targets", "file_tree", "removed"))
	if removed != 1 {
		t.Errorf("expected 1 file_tree action, got %v", removed)
	}
	if got := testutil.ToFloat64(m.retries.WithLabelValues("file_tree")); got != 2 {
		t.Errorf("expected 2 retry attempts, got %v", got)
	}
	if got := testutil.CollectAndCount(m.retries); got != 1 {
		t.Errorf("single attempts must not create retry series, got %d", got)
	}
}

func TestMetrics_RunFinished(t *testing.T) {
	m := testMetrics(t)
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	m.RunFinished(context.Background(), &engine.RunReport{
		RunID:       "run-1",
		State:       engine.StateCompletedWithResiduals,
		Suspended:   4,
		StartedAt:   start,
		CompletedAt: start.Add(90 * time.Second),
		Outcome: &engine.RunOutcome{
			ResidualTargets: []engine.Target{
				engine.NewFileTree(`C:\ProgramData\Contoso`, "file_tree"),
			},
			ResidualServices: []engine.ServiceDescriptor{{Name: "CSCAgent"}},
		},
	})

	if got := testutil.ToFloat64(m.runs.WithLabelValues("completed_with_residuals")); got != 1 {
		t.Errorf("expected 1 run, got %v", got)
	}
	if got := testutil.ToFloat64(m.suspended); got != 4 {
		t.Errorf("expected 4 suspended, got %v", got)
	}
	for kind, want := range map[string]float64{"file_tree": 1, "service": 1} {
		if got := testutil.ToFloat64(m.residuals.WithLabelValues(kind)); got != want {
			t.Errorf("residuals{kind=%q}: expected %v, got %v", kind, want, got)
		}
	}
	if got := testutil.CollectAndCount(m.runDuration); got != 1 {
		t.Errorf("expected one duration histogram, got %d", got)
	}
}

func TestMetrics_DeliverTextfile(t *testing.T) {
	cfg := DefaultConfig().Metrics
	cfg.Textfile = filepath.Join(t.TempDir(), "decom.prom")
	m := NewMetrics(cfg)

	m.RunFinished(context.Background(), &engine.RunReport{State: engine.StateCompleted})

	if err := m.Deliver(context.Background()); err != nil {
		t.Fatalf("deliver failed: %v", err)
	}
	data, err := os.ReadFile(cfg.Textfile)
	if err != nil {
		t.Fatalf("textfile not written: %v", err)
	}
	if !strings.Contains(string(data), `decom_runs_total{state="completed"} 1`) {
		t.Errorf("unexpected textfile content:\n%s", data)
	}
}

func TestMetrics_DeliverNothingConfigured(t *testing.T) {
	if err := testMetrics(t).Deliver(context.Background()); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}
