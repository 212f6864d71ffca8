package engine_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/openfroyo/decom/pkg/engine"
	"github.com/openfroyo/decom/pkg/platform/memhost"
)

type recordingObserver struct {
	started     []string
	transitions []engine.RunState
	actions     []engine.ActionRecord
	finished    *engine.RunReport
}

func (o *recordingObserver) RunStarted(_ context.Context, runID, _ string) {
	o.started = append(o.started, runID)
}

func (o *recordingObserver) StateChanged(_ context.Context, _ string, _, to engine.RunState) {
	o.transitions = append(o.transitions, to)
}

func (o *recordingObserver) ActionRecorded(_ context.Context, _ string, a engine.ActionRecord) {
	o.actions = append(o.actions, a)
}

func (o *recordingObserver) RunFinished(_ context.Context, r *engine.RunReport) {
	o.finished = r
}

type stubConfirmer struct {
	answer bool
	err    error
	asked  int
}

func (c *stubConfirmer) Confirm(context.Context, *engine.Plan) (bool, error) {
	c.asked++
	return c.answer, c.err
}

type denyGuard struct {
	subject string
}

func (g denyGuard) Review(_ context.Context, plan *engine.Plan) (*engine.Plan, error) {
	out := *plan
	out.Targets = nil
	for _, t := range plan.Targets {
		if t.Path == g.subject {
			out.Exclusions = append(out.Exclusions, engine.Exclusion{Subject: t.Path, Policy: "test", Severity: "error", Message: "protected"})
			continue
		}
		out.Targets = append(out.Targets, t)
	}
	return &out, nil
}

func newOrchestrator(t *testing.T, h *memhost.Host, settings engine.Settings, opts ...engine.Option) *engine.Orchestrator {
	t.Helper()
	opts = append([]engine.Option{engine.WithClock(newFakeClock()), engine.WithProfileName("contoso")}, opts...)
	o, err := engine.NewOrchestrator(h.Engine(), testKnowledge(), settings, nopLogger(), opts...)
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}
	return o
}

func run(t *testing.T, o *engine.Orchestrator) *engine.RunReport {
	t.Helper()
	report, err := o.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return report
}

func TestOrchestrator_NothingInstalledShortCircuits(t *testing.T) {
	h := newHost().
		AddService("EventLog", "Windows Event Log", engine.ServiceRunning).
		AddService("Spooler", "Print Spooler", engine.ServiceRunning)
	obs := &recordingObserver{}
	confirm := &stubConfirmer{answer: true}
	settings := testSettings()
	settings.SkipConfirmation = false

	report := run(t, newOrchestrator(t, h, settings, engine.WithObserver(obs), engine.WithConfirmer(confirm)))

	if report.State != engine.StateNothingToDo {
		t.Errorf("Expected nothing_to_do, got %s", report.State)
	}
	if !report.Plan.IsEmpty() {
		t.Errorf("Expected an empty plan, got %v", targetPaths(report.Plan.Targets))
	}
	if calls := h.Calls(); len(calls) != 0 {
		t.Errorf("Expected an empty plan not to touch the host, got %v", calls)
	}
	if confirm.asked != 0 {
		t.Errorf("Expected no confirmation, asked %d times", confirm.asked)
	}
	if want := []engine.RunState{engine.StatePlan, engine.StateNothingToDo}; !slices.Equal(want, obs.transitions) {
		t.Errorf("Expected transitions %v, got %v", want, obs.transitions)
	}
	if obs.finished != report {
		t.Error("Expected the observer to receive the returned report")
	}
}

func TestOrchestrator_FullRun(t *testing.T) {
	h := installProduct(newHost())
	before := h.Running()
	obs := &recordingObserver{}

	report := run(t, newOrchestrator(t, h, testSettings(), engine.WithObserver(obs)))

	if report.State != engine.StateCompleted {
		t.Errorf("Expected completed, got %s", report.State)
	}
	if report.Outcome == nil {
		t.Fatal("Expected an outcome, got nil")
	}
	if !report.Outcome.Succeeded {
		t.Errorf("Expected verification to succeed, residuals: %v", report.Outcome.Residuals())
	}

	wantStates := []engine.RunState{
		engine.StatePlan,
		engine.StateConfirm,
		engine.StateUnregister,
		engine.StateStopTargetSvcs,
		engine.StateSuspendDependents,
		engine.StateRemoveTargets,
		engine.StateRemoveDevices,
		engine.StateRestoreDependents,
		engine.StateVerify,
		engine.StateReport,
		engine.StateCompleted,
	}
	if !slices.Equal(wantStates, obs.transitions) {
		t.Errorf("Expected transitions %v, got %v", wantStates, obs.transitions)
	}

	for _, path := range []string{installDir, dataDir} {
		if h.HasPath(path) {
			t.Errorf("Expected %s to be deleted", path)
		}
	}
	for _, key := range []string{vendorKey, `HKCR\Installer\Products\` + productID} {
		if h.HasKey(key) {
			t.Errorf("Expected %s to be deleted", key)
		}
	}
	for _, name := range []string{"CSCAgent", "CSTunnel"} {
		if h.HasService(name) {
			t.Errorf("Expected service %s to be uninstalled", name)
		}
	}
	if n := len(h.Adapters()); n != 1 {
		t.Errorf("Expected 1 adapter left, got %d", n)
	}

	var wantRunning []string
	for _, name := range before {
		if name != "CSCAgent" {
			wantRunning = append(wantRunning, name)
		}
	}
	gotRunning := slices.Clone(h.Running())
	slices.Sort(wantRunning)
	slices.Sort(gotRunning)
	if !slices.Equal(wantRunning, gotRunning) {
		t.Errorf("Expected suspended services restored to %v, got %v", wantRunning, gotRunning)
	}
	if len(report.Actions) != len(obs.actions) {
		t.Errorf("Expected %d observed actions, got %d", len(report.Actions), len(obs.actions))
	}
	if report.Suspended != 4 {
		t.Errorf("Expected 4 suspended services, got %d", report.Suspended)
	}
}

func TestOrchestrator_OrderingDiscipline(t *testing.T) {
	h := installProduct(newHost())
	run(t, newOrchestrator(t, h, testSettings()))

	index := func(op, subject string) int {
		for i, c := range h.Calls() {
			if c.Op == op && (subject == "" || c.Subject == subject) {
				return i
			}
		}
		return -1
	}
	unregister := index("module.unregister", shellExtPath)
	stopTarget := index("service.stop", "CSCAgent")
	stopPlatform := index("service.stop", "EventLog")
	firstFileRemoval := index("fs.remove_file", "")
	restart := index("service.start", "EventLog")

	if unregister == -1 {
		t.Fatal("Expected the shell extension to be unregistered")
	}
	if unregister >= firstFileRemoval {
		t.Errorf("Expected modules to be unregistered before files are deleted (%d >= %d)", unregister, firstFileRemoval)
	}
	if stopTarget >= stopPlatform {
		t.Errorf("Expected target services to stop before dependents are suspended (%d >= %d)", stopTarget, stopPlatform)
	}
	if stopPlatform >= firstFileRemoval {
		t.Errorf("Expected dependents to be suspended before files are deleted (%d >= %d)", stopPlatform, firstFileRemoval)
	}
	if restart <= firstFileRemoval {
		t.Errorf("Expected dependents to be restored after removal (%d <= %d)", restart, firstFileRemoval)
	}
}

func TestOrchestrator_RestoreAfterRemovalFailures(t *testing.T) {
	locked := installDir + `\client.exe`
	h := installProduct(newHost()).LockFor(locked, 100).Deny(vendorKey)
	before := h.Running()

	report := run(t, newOrchestrator(t, h, testSettings()))

	if report.State != engine.StateCompletedWithResiduals {
		t.Errorf("Expected completed_with_residuals, got %s", report.State)
	}
	if report.Outcome.Succeeded {
		t.Error("Expected verification to fail")
	}
	residuals := targetPaths(report.Outcome.ResidualTargets)
	if !slices.Contains(residuals, installDir) {
		t.Errorf("Expected %s among residuals, got %v", installDir, residuals)
	}
	if slices.Contains(residuals, vendorKey) {
		t.Errorf("Expected registry keys not to be re-checked, got %v", residuals)
	}
	summary := report.FailureSummary()
	if summary == nil {
		t.Fatal("Expected a failure summary, got nil")
	}
	if !strings.Contains(summary.Error(), vendorKey) {
		t.Errorf("Expected the failure summary to name %s, got %q", vendorKey, summary)
	}

	running := h.Running()
	for _, name := range []string{"EventLog", "Winmgmt", "wscsvc", "Backup"} {
		if !slices.Contains(running, name) {
			t.Errorf("Expected %s to be running again", name)
		}
	}
	for _, name := range running {
		if !slices.Contains(before, name) {
			t.Errorf("Expected %s not to have been started by the run", name)
		}
	}
}

func TestOrchestrator_Declined(t *testing.T) {
	h := installProduct(newHost())
	settings := testSettings()
	settings.SkipConfirmation = false
	confirm := &stubConfirmer{answer: false}

	report := run(t, newOrchestrator(t, h, settings, engine.WithConfirmer(confirm)))

	if report.State != engine.StateDeclined {
		t.Errorf("Expected declined, got %s", report.State)
	}
	if confirm.asked != 1 {
		t.Errorf("Expected 1 confirmation, got %d", confirm.asked)
	}
	if calls := h.Calls(); len(calls) != 0 {
		t.Errorf("Expected no host calls, got %v", calls)
	}
	if report.State.Mutates() {
		t.Error("Expected a declined run not to mutate")
	}
}

func TestOrchestrator_ConfirmerError(t *testing.T) {
	h := installProduct(newHost())
	settings := testSettings()
	settings.SkipConfirmation = false

	report, err := newOrchestrator(t, h, settings, engine.WithConfirmer(&stubConfirmer{err: errors.New("no tty")})).Run(ctx)
	if err == nil {
		t.Fatal("Expected error from the confirmer, got nil")
	}
	if !strings.Contains(report.Error, "no tty") {
		t.Errorf("Expected report error to mention the confirmer, got %q", report.Error)
	}
	if calls := h.Calls(); len(calls) != 0 {
		t.Errorf("Expected no host calls, got %v", calls)
	}
}

func TestOrchestrator_SkipConfirmation(t *testing.T) {
	h := installProduct(newHost())
	confirm := &stubConfirmer{answer: false}

	report := run(t, newOrchestrator(t, h, testSettings(), engine.WithConfirmer(confirm)))
	if confirm.asked != 0 {
		t.Errorf("Expected no confirmation, asked %d times", confirm.asked)
	}
	if report.State != engine.StateCompleted {
		t.Errorf("Expected completed, got %s", report.State)
	}
}

func TestOrchestrator_PreserveNetworkAdapters(t *testing.T) {
	h := installProduct(newHost())
	settings := testSettings()
	settings.PreserveNetworkAdapters = true

	report := run(t, newOrchestrator(t, h, settings))

	for _, prefix := range []string{"adapter.", "device."} {
		if calls := h.CallsWithPrefix(prefix); len(calls) != 0 {
			t.Errorf("Expected no %s calls, got %v", prefix, calls)
		}
	}
	if n := len(h.Adapters()); n != 2 {
		t.Errorf("Expected 2 adapters left, got %d", n)
	}
	if report.State != engine.StateCompleted {
		t.Errorf("Expected completed, got %s", report.State)
	}
}

func TestOrchestrator_GuardExclusions(t *testing.T) {
	h := installProduct(newHost())

	o := newOrchestrator(t, h, testSettings(), engine.WithGuard(denyGuard{subject: installDir}))
	plan, err := o.Discover(ctx)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(plan.Exclusions) != 1 {
		t.Fatalf("Expected 1 exclusion, got %d", len(plan.Exclusions))
	}
	if slices.Contains(targetPaths(plan.Targets), installDir) {
		t.Errorf("Expected %s to be excluded from targets", installDir)
	}

	report := run(t, o)
	if !h.HasPath(installDir) {
		t.Error("Expected excluded targets never to be executed")
	}
	if report.State != engine.StateCompleted {
		t.Errorf("Expected completed, got %s", report.State)
	}
}

func TestOrchestrator_Rerun(t *testing.T) {
	h := installProduct(newHost())
	o := newOrchestrator(t, h, testSettings())

	run(t, o)
	if report := run(t, o); report.State != engine.StateNothingToDo {
		t.Errorf("Expected nothing_to_do on rerun, got %s", report.State)
	}
}
