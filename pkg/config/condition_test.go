package config

import (
	"testing"

	"github.com/openfroyo/decom/pkg/engine"
)

func TestStarlarkCondition_Holds(t *testing.T) {
	tests := []struct {
		name  string
		expr  string
		facts engine.HostFacts
		want  bool
	}{
		{name: "modern", expr: "os_major >= 6", facts: engine.HostFacts{OSMajor: 10}, want: true},
		{name: "legacy", expr: "os_major >= 6", facts: engine.HostFacts{OSMajor: 5}, want: false},
		{name: "arch", expr: `arch == "amd64" and os_major < 6`, facts: engine.HostFacts{OSMajor: 5, Arch: "amd64"}, want: true},
		{name: "membership", expr: `arch in ["arm64", "386"]`, facts: engine.HostFacts{Arch: "amd64"}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := CompileCondition(tt.expr)
			if err != nil {
				t.Fatalf("CompileCondition() error = %v", err)
			}
			got, err := c.Holds(tt.facts)
			if err != nil {
				t.Fatalf("Holds() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Holds() = %v, want %v", got, tt.want)
			}
			if c.String() != tt.expr {
				t.Errorf("String() = %q", c.String())
			}
		})
	}
}

func TestCompileCondition_Errors(t *testing.T) {
	for _, expr := range []string{
		"",
		"os_major >=",
		"build_number > 7600",
		`"not a bool"`,
		"os_major",
	} {
		if _, err := CompileCondition(expr); err == nil {
			t.Errorf("CompileCondition(%q) expected error", expr)
		}
	}
}
