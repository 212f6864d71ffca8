package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/decom/pkg/engine"
)

func newTestLoader(t *testing.T) *Loader {
	t.Helper()
	l, err := NewLoader()
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}
	return l
}

const minimalDocument = `
profile: {
	name:    "fabrikam-agent"
	product: "Fabrikam Agent"
	services: pattern: "*Fabrikam*"
}
`

func TestLoader_BuiltinProfile(t *testing.T) {
	l := newTestLoader(t)

	doc, err := l.LoadProfile("contoso-secure-client")
	if err != nil {
		t.Fatalf("LoadProfile() error = %v", err)
	}
	if doc.Source != "builtin:contoso-secure-client" {
		t.Errorf("Source = %q", doc.Source)
	}

	k, err := doc.Profile.Knowledge()
	if err != nil {
		t.Fatalf("Knowledge() error = %v", err)
	}
	if k.Product != "Contoso Secure Client" {
		t.Errorf("Product = %q", k.Product)
	}
	if len(k.Conditional) != 2 || k.Conditional[0].When == nil {
		t.Fatalf("Conditional = %+v", k.Conditional)
	}
	if k.UninstallKey != engine.DefaultUninstallKey {
		t.Errorf("UninstallKey default not applied: %q", k.UninstallKey)
	}
	if k.DeviceClass != "Net" {
		t.Errorf("DeviceClass = %q", k.DeviceClass)
	}
}

func TestLoader_Defaults(t *testing.T) {
	l := newTestLoader(t)

	doc, err := l.LoadBytes("minimal.cue", []byte(minimalDocument))
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}
	if !reflect.DeepEqual(doc.Settings, DefaultSettings()) {
		t.Errorf("Settings = %+v, want %+v", doc.Settings, DefaultSettings())
	}

	s, err := doc.Settings.EngineSettings()
	if err != nil {
		t.Fatalf("EngineSettings() error = %v", err)
	}
	if s != engine.DefaultSettings() {
		t.Errorf("EngineSettings() = %+v, want %+v", s, engine.DefaultSettings())
	}
}

func TestLoader_SettingsOverrides(t *testing.T) {
	l := newTestLoader(t)
	src := minimalDocument + `
settings: {
	retry: {attempts: 5, delay: "500ms"}
	settle: "0s"
	dependents: enabled: false
	preserveNetworkAdapters: true
	logging: format: "json"
}
`
	doc, err := l.LoadBytes("overrides.cue", []byte(src))
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}
	s, err := doc.Settings.EngineSettings()
	if err != nil {
		t.Fatalf("EngineSettings() error = %v", err)
	}

	want := engine.Settings{
		Retry:                   engine.RetrySettings{Attempts: 5, Delay: 500 * time.Millisecond},
		SuspendDependents:       false,
		Settle:                  0,
		PreserveNetworkAdapters: true,
	}
	if s != want {
		t.Errorf("EngineSettings() = %+v, want %+v", s, want)
	}
	if doc.Settings.Logging.Format != "json" || doc.Settings.Logging.Level != "info" {
		t.Errorf("Logging = %+v", doc.Settings.Logging)
	}
}

func TestLoader_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantMsg string
	}{
		{
			name:    "unknown field",
			src:     minimalDocument + "settings: retries: 3\n",
			wantMsg: "retries",
		},
		{
			name:    "missing product",
			src:     "profile: {name: \"x\", services: pattern: \"*x*\"}\n",
			wantMsg: "product",
		},
		{
			name:    "attempts out of range",
			src:     minimalDocument + "settings: retry: attempts: 0\n",
			wantMsg: "attempts",
		},
		{
			name:    "bad duration",
			src:     minimalDocument + "settings: settle: \"soon\"\n",
			wantMsg: "settle",
		},
		{
			name:    "namespace without placeholder",
			src:     minimalDocument + "profile: installerNamespaces: [\"HKCR\\\\Installer\\\\Products\"]\n",
			wantMsg: "installerNamespaces",
		},
		{
			name:    "bad glob",
			src:     strings.Replace(minimalDocument, `"*Fabrikam*"`, `"[Fabrikam"`, 1),
			wantMsg: "glob",
		},
		{
			name:    "bad condition",
			src:     minimalDocument + "profile: conditional: [{kind: \"file_tree\", path: \"C:\\\\x\", when: \"windows_build > 1\"}]\n",
			wantMsg: "condition",
		},
		{
			name:    "relative file tree",
			src:     minimalDocument + "profile: fileTrees: [\"Fabrikam\\\\Cache\"]\n",
			wantMsg: "fileTrees",
		},
		{
			name:    "file tree behind a partial variable",
			src:     minimalDocument + "profile: modulePaths: [\"Fabrikam%Suffix%\\\\agent.dll\"]\n",
			wantMsg: "modulePaths",
		},
		{
			name:    "relative conditional file tree",
			src:     minimalDocument + "profile: conditional: [{kind: \"file_tree\", path: \"Fabrikam\"}]\n",
			wantMsg: "conditional",
		},
		{
			name:    "otlp without endpoint",
			src:     minimalDocument + "settings: tracing: exporter: \"otlp\"\n",
			wantMsg: "Endpoint",
		},
	}

	l := newTestLoader(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.LoadBytes("bad.cue", []byte(tt.src))
			if err == nil {
				t.Fatal("LoadBytes() expected error")
			}
			var lerr *LoadError
			if !errors.As(err, &lerr) {
				t.Fatalf("error %T is not a *LoadError: %v", err, err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestLoader_ValidateFilePaths(t *testing.T) {
	l := newTestLoader(t)

	tests := []struct {
		name    string
		mutate  func(p *Profile)
		wantErr bool
	}{
		{name: "env rooted", mutate: func(p *Profile) { p.FileTrees = []string{`%ProgramFiles%\Fabrikam`} }},
		{name: "drive rooted", mutate: func(p *Profile) { p.ModulePaths = []string{`C:\Fabrikam\agent.dll`} }},
		{name: "unc share", mutate: func(p *Profile) { p.FileTrees = []string{`\\files\tools\Fabrikam`} }},
		{name: "relative", mutate: func(p *Profile) { p.FileTrees = []string{`Fabrikam`} }, wantErr: true},
		{name: "drive relative", mutate: func(p *Profile) { p.ModulePaths = []string{`C:agent.dll`} }, wantErr: true},
		{
			name: "relative conditional file tree",
			mutate: func(p *Profile) {
				p.Conditional = []ConditionalTarget{{Kind: "file_tree", Path: `Fabrikam\Win10`}}
			},
			wantErr: true,
		},
		{
			name: "conditional registry key",
			mutate: func(p *Profile) {
				p.Conditional = []ConditionalTarget{{Kind: "config_entry", Path: `HKLM\SOFTWARE\Fabrikam`}}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := l.LoadBytes("minimal.cue", []byte(minimalDocument))
			if err != nil {
				t.Fatal(err)
			}
			tt.mutate(&doc.Profile)

			err = l.Validate(doc)
			if tt.wantErr {
				if err == nil || !strings.Contains(err.Error(), "filepath_root") {
					t.Errorf("Validate() error = %v, want a filepath_root failure", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() error = %v", err)
			}
		})
	}
}

func TestLoader_LoadFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "fabrikam.cue")
	if err := os.WriteFile(file, []byte(minimalDocument), 0o644); err != nil {
		t.Fatal(err)
	}

	doc, err := newTestLoader(t).LoadFile(file)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if doc.Source != file || doc.Profile.Name != "fabrikam-agent" {
		t.Errorf("doc = %+v", doc)
	}

	if _, err := newTestLoader(t).LoadFile(filepath.Join(dir, "missing.cue")); err == nil {
		t.Error("LoadFile() expected error for a missing file")
	}
}

func TestLoader_UnknownProfile(t *testing.T) {
	_, err := newTestLoader(t).LoadProfile("nope")
	if err == nil || !strings.Contains(err.Error(), "contoso-secure-client") {
		t.Errorf("LoadProfile() error = %v, want the available profiles listed", err)
	}
}

func TestProfiles(t *testing.T) {
	names := Profiles()
	if len(names) == 0 || names[0] != "contoso-secure-client" {
		t.Errorf("Profiles() = %v", names)
	}
}

func TestDocument_Export(t *testing.T) {
	doc, err := newTestLoader(t).LoadBytes("minimal.cue", []byte(minimalDocument))
	if err != nil {
		t.Fatal(err)
	}

	y, err := doc.ExportYAML()
	if err != nil {
		t.Fatalf("ExportYAML() error = %v", err)
	}
	if !strings.Contains(string(y), "product: Fabrikam Agent") || !strings.Contains(string(y), "attempts: 3") {
		t.Errorf("ExportYAML() =\n%s", y)
	}

	j, err := doc.ExportJSON()
	if err != nil {
		t.Fatalf("ExportJSON() error = %v", err)
	}
	if !strings.Contains(string(j), `"pattern": "*Fabrikam*"`) {
		t.Errorf("ExportJSON() =\n%s", j)
	}
}
