package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/decom/pkg/engine"
)

func newTestGuard(t *testing.T) *Guard {
	t.Helper()
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	g, err := NewGuard(context.Background(), logger, engine.DefaultPlatformServices)
	if err != nil {
		t.Fatalf("Failed to create guard: %v", err)
	}
	return g
}

func TestNewGuard(t *testing.T) {
	g := newTestGuard(t)

	policies := g.Policies()
	expected := []string{"module-coverage", "protected-paths", "protected-services", "registry-depth"}
	if len(policies) != len(expected) {
		t.Fatalf("Expected %d built-in policies, got %d", len(expected), len(policies))
	}
	for i, name := range expected {
		if policies[i].Name != name {
			t.Errorf("Policy %d: expected %s, got %s", i, name, policies[i].Name)
		}
		if !policies[i].Enabled {
			t.Errorf("Built-in policy %s should be enabled", name)
		}
	}
}

func TestEvaluate_ProtectedPaths(t *testing.T) {
	g := newTestGuard(t)

	tests := []struct {
		name    string
		path    string
		blocked bool
	}{
		{name: "drive root", path: `C:\`, blocked: true},
		{name: "other drive root", path: `D:`, blocked: true},
		{name: "windows directory", path: `C:\Windows`, blocked: true},
		{name: "system32 with trailing separator", path: `C:\Windows\System32\`, blocked: true},
		{name: "program files", path: `C:\Program Files`, blocked: true},
		{name: "program files x86 mixed case", path: `c:\PROGRAM FILES (X86)`, blocked: true},
		{name: "users", path: `C:\Users`, blocked: true},
		{name: "vendor directory", path: `C:\Program Files\Contoso`, blocked: false},
		{name: "driver file", path: `C:\Windows\System32\drivers\csctun.sys`, blocked: false},
		{name: "program data vendor", path: `C:\ProgramData\Contoso`, blocked: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := &engine.Plan{Targets: []engine.Target{{Kind: engine.TargetFileTree, Path: tt.path}}}
			violations, err := g.Evaluate(context.Background(), plan)
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}

			blocked := false
			for _, v := range violations {
				if v.Policy == "protected-paths" && v.Severity.Blocks() && v.Subject == tt.path {
					blocked = true
				}
			}
			if blocked != tt.blocked {
				t.Errorf("Expected blocked=%v for %s, got %v (%+v)", tt.blocked, tt.path, blocked, violations)
			}
		})
	}
}

func TestEvaluate_RegistryDepth(t *testing.T) {
	g := newTestGuard(t)

	tests := []struct {
		name    string
		path    string
		blocked bool
	}{
		{name: "hive root", path: `HKLM`, blocked: true},
		{name: "software root", path: `HKLM\SOFTWARE`, blocked: true},
		{name: "long hive name", path: `HKEY_LOCAL_MACHINE\SOFTWARE`, blocked: true},
		{name: "uninstall root", path: `HKLM\SOFTWARE\Microsoft\Windows\CurrentVersion\Uninstall`, blocked: true},
		{name: "uninstall root long hive", path: `HKEY_LOCAL_MACHINE\SOFTWARE\Microsoft\Windows\CurrentVersion\Uninstall`, blocked: true},
		{name: "clsid root", path: `HKCR\CLSID`, blocked: true},
		{name: "vendor key", path: `HKLM\SOFTWARE\Contoso`, blocked: false},
		{name: "uninstall entry", path: `HKLM\SOFTWARE\Microsoft\Windows\CurrentVersion\Uninstall\ContosoClient`, blocked: false},
		{name: "event source", path: `HKLM\SYSTEM\CurrentControlSet\Services\EventLog\Application\ContosoAgent`, blocked: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := &engine.Plan{Targets: []engine.Target{{Kind: engine.TargetConfigEntry, Path: tt.path}}}
			violations, err := g.Evaluate(context.Background(), plan)
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}

			blocked := false
			for _, v := range violations {
				if v.Policy == "registry-depth" && v.Severity.Blocks() {
					blocked = true
				}
			}
			if blocked != tt.blocked {
				t.Errorf("Expected blocked=%v for %s, got %v (%+v)", tt.blocked, tt.path, blocked, violations)
			}
		})
	}
}

func TestReview_MovesBlockedItemsToExclusions(t *testing.T) {
	g := newTestGuard(t)

	plan := &engine.Plan{
		ID:      "plan-1",
		Product: "Contoso Secure Client",
		Targets: []engine.Target{
			{Kind: engine.TargetConfigEntry, Path: `HKLM\SOFTWARE`},
			{Kind: engine.TargetConfigEntry, Path: `HKLM\SOFTWARE\Contoso`},
			{Kind: engine.TargetFileTree, Path: `C:\Program Files`},
			{Kind: engine.TargetFileTree, Path: `C:\Program Files\Contoso`},
		},
		Services: []engine.ServiceDescriptor{
			{Name: "ContosoAgent", DisplayName: "Contoso Agent"},
			{Name: "Winmgmt", DisplayName: "Windows Management Instrumentation"},
		},
		Modules: []string{
			`C:\Program Files\Contoso\shellext.dll`,
			`C:\Tools\contoso.dll`,
		},
	}

	reviewed, err := g.Review(context.Background(), plan)
	if err != nil {
		t.Fatalf("Review failed: %v", err)
	}

	if len(reviewed.Targets) != 2 {
		t.Fatalf("Expected 2 targets to remain, got %d: %+v", len(reviewed.Targets), reviewed.Targets)
	}
	for _, target := range reviewed.Targets {
		if target.Path != `HKLM\SOFTWARE\Contoso` && target.Path != `C:\Program Files\Contoso` {
			t.Errorf("Unexpected target kept: %s", target)
		}
	}

	if len(reviewed.Services) != 1 || reviewed.Services[0].Name != "ContosoAgent" {
		t.Errorf("Expected only ContosoAgent to remain, got %+v", reviewed.Services)
	}

	// Module outside every file tree is only a warning.
	if len(reviewed.Modules) != 2 {
		t.Errorf("Expected both modules to remain, got %+v", reviewed.Modules)
	}

	if len(reviewed.Exclusions) != 3 {
		t.Fatalf("Expected 3 exclusions, got %d: %+v", len(reviewed.Exclusions), reviewed.Exclusions)
	}
	policies := map[string]string{}
	for _, ex := range reviewed.Exclusions {
		policies[ex.Subject] = ex.Policy
	}
	if policies[`config_entry HKLM\SOFTWARE`] != "registry-depth" {
		t.Errorf("Expected registry-depth exclusion, got %+v", reviewed.Exclusions)
	}
	if policies[`file_tree C:\Program Files`] != "protected-paths" {
		t.Errorf("Expected protected-paths exclusion, got %+v", reviewed.Exclusions)
	}
	if policies["service Winmgmt"] != "protected-services" {
		t.Errorf("Expected protected-services exclusion, got %+v", reviewed.Exclusions)
	}

	if len(plan.Targets) != 4 || len(plan.Exclusions) != 0 {
		t.Error("Review must not modify its input plan")
	}
}

func TestReview_CleanPlanUnchanged(t *testing.T) {
	g := newTestGuard(t)

	plan := &engine.Plan{
		Targets: []engine.Target{
			{Kind: engine.TargetConfigEntry, Path: `HKLM\SOFTWARE\Contoso`},
			{Kind: engine.TargetFileTree, Path: `C:\Program Files\Contoso`},
		},
		Services: []engine.ServiceDescriptor{{Name: "ContosoAgent"}},
		Modules:  []string{`C:\Program Files\Contoso\shellext.dll`},
	}

	reviewed, err := g.Review(context.Background(), plan)
	if err != nil {
		t.Fatalf("Review failed: %v", err)
	}
	if len(reviewed.Targets) != 2 || len(reviewed.Services) != 1 || len(reviewed.Modules) != 1 {
		t.Errorf("Expected plan to be unchanged, got %+v", reviewed)
	}
	if len(reviewed.Exclusions) != 0 {
		t.Errorf("Expected no exclusions, got %+v", reviewed.Exclusions)
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	g := newTestGuard(t)
	plan := &engine.Plan{Services: []engine.ServiceDescriptor{{Name: "EventLog"}}}

	if err := g.DisablePolicy("protected-services"); err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}
	reviewed, err := g.Review(context.Background(), plan)
	if err != nil {
		t.Fatalf("Review failed: %v", err)
	}
	if len(reviewed.Services) != 1 {
		t.Errorf("Disabled policy should not exclude, got %+v", reviewed.Exclusions)
	}

	if err := g.EnablePolicy("protected-services"); err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}
	reviewed, err = g.Review(context.Background(), plan)
	if err != nil {
		t.Fatalf("Review failed: %v", err)
	}
	if len(reviewed.Services) != 0 {
		t.Errorf("Enabled policy should exclude EventLog, got %+v", reviewed.Services)
	}

	if err := g.DisablePolicy("non-existent"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}

func TestLoadPaths_CustomPolicy(t *testing.T) {
	g := newTestGuard(t)

	dir := t.TempDir()
	rego := `# Keeps the shared vendor hive.
package site.guard

import rego.v1

deny contains violation if {
	some t in input.targets
	t.kind == "config_entry"
	lower(t.path) == "hklm\\software\\contoso"
	violation := {
		"kind": t.kind,
		"subject": t.path,
		"severity": "error",
		"message": "shared with other Contoso products",
	}
}
`
	if err := os.WriteFile(filepath.Join(dir, "keep-vendor-hive.rego"), []byte(rego), 0o644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}

	if err := g.LoadPaths(context.Background(), dir); err != nil {
		t.Fatalf("LoadPaths failed: %v", err)
	}

	plan := &engine.Plan{Targets: []engine.Target{
		{Kind: engine.TargetConfigEntry, Path: `HKLM\SOFTWARE\Contoso`},
		{Kind: engine.TargetConfigEntry, Path: `HKLM\SOFTWARE\Contoso\Client`},
	}}
	reviewed, err := g.Review(context.Background(), plan)
	if err != nil {
		t.Fatalf("Review failed: %v", err)
	}
	if len(reviewed.Targets) != 1 || reviewed.Targets[0].Path != `HKLM\SOFTWARE\Contoso\Client` {
		t.Errorf("Expected only the subkey to remain, got %+v", reviewed.Targets)
	}
	if len(reviewed.Exclusions) != 1 || reviewed.Exclusions[0].Policy != "keep-vendor-hive" {
		t.Errorf("Expected exclusion by keep-vendor-hive, got %+v", reviewed.Exclusions)
	}
}

func TestAdd_InvalidRego(t *testing.T) {
	g := newTestGuard(t)

	err := g.Add(context.Background(), Policy{Name: "broken", Rego: "package broken\n\ndeny contains x if {"})
	if err == nil {
		t.Fatal("Expected error for invalid Rego")
	}
}

func TestCreateViolation(t *testing.T) {
	p := Policy{Name: "p", Severity: SeverityWarning}

	v := createViolation(p, "plain message")
	if v.Message != "plain message" || v.Severity != SeverityWarning {
		t.Errorf("Unexpected violation from string: %+v", v)
	}

	v = createViolation(p, map[string]interface{}{
		"kind":     "service",
		"subject":  "Foo",
		"message":  "no",
		"severity": "CRITICAL",
	})
	if v.Kind != SubjectService || v.Subject != "Foo" || v.Severity != SeverityCritical {
		t.Errorf("Unexpected violation from object: %+v", v)
	}
}
