package commands

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openfroyo/decom/pkg/engine"
)

func testPlan() *engine.Plan {
	return &engine.Plan{
		ID:      "plan-1",
		Product: "Contoso Secure Client",
		OSMajor: 10,
		Targets: []engine.Target{
			engine.NewConfigEntry(`HKLM\SOFTWARE\Contoso`, "vendor_keys"),
			{Kind: engine.TargetFileTree, Path: `C:\Program Files\Contoso`, SizeBytes: 3 << 20},
		},
		Services: []engine.ServiceDescriptor{
			{Name: "CSCAgent", DisplayName: "Contoso Secure Client Agent", State: engine.ServiceRunning},
		},
		Exclusions: []engine.Exclusion{
			{Subject: `file_tree C:\Windows`, Policy: "protected-paths", Severity: "critical", Message: "protected system path"},
		},
	}
}

func TestPromptConfirmer(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{input: "y\n", want: true},
		{input: "YES\n", want: true},
		{input: "n\n", want: false},
		{input: "\n", want: false},
		{input: "", want: false},
	}

	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			c := newPromptConfirmer(strings.NewReader(tt.input), &out)
			c.interactive = func() bool { return true }

			ok, err := c.Confirm(context.Background(), testPlan())
			if err != nil {
				t.Fatalf("Confirm() error = %v", err)
			}
			if ok != tt.want {
				t.Errorf("Expected %v for %q, got %v", tt.want, tt.input, ok)
			}
			expectContains(t, out.String(), "[y/N]")
		})
	}
}

func TestPromptConfirmer_NotInteractive(t *testing.T) {
	c := newPromptConfirmer(strings.NewReader("y\n"), &bytes.Buffer{})
	ok, err := c.Confirm(context.Background(), testPlan())
	if ok {
		t.Error("Expected no confirmation without a terminal")
	}
	if !errors.Is(err, errNotInteractive) {
		t.Errorf("Expected errNotInteractive, got %v", err)
	}
}

func TestRenderPlan(t *testing.T) {
	var out bytes.Buffer
	renderPlan(&out, testPlan())

	expectContains(t, out.String(),
		"Decommission plan: Contoso Secure Client",
		"Installer records: not found",
		"3.1 MB",
		"CSCAgent (Contoso Secure Client Agent)",
		"Excluded by policy (1)",
		"[protected-paths]",
	)
}

func TestRenderReport(t *testing.T) {
	report := &engine.RunReport{
		RunID: "0123456789abcdef",
		State: engine.StateCompletedWithResiduals,
		Plan:  testPlan(),
		Actions: []engine.ActionRecord{
			{Phase: engine.PhaseRemoveTargets, Kind: engine.ActionFileTree, Subject: `C:\Program Files\Contoso`, Status: engine.ResultFailed, Error: "retries exhausted"},
			{Phase: engine.PhaseRemoveTargets, Kind: engine.ActionConfigEntry, Subject: `HKLM\SOFTWARE\Contoso`, Status: engine.ResultRemoved},
		},
		Outcome: &engine.RunOutcome{
			ResidualTargets: []engine.Target{{Kind: engine.TargetFileTree, Path: `C:\Program Files\Contoso`}},
		},
	}

	var out bytes.Buffer
	renderReport(&out, report)

	expectContains(t, out.String(),
		"Decommission run 01234567",
		"2, 1 failed",
		"retries exhausted",
		"Residuals (1)",
	)
}
