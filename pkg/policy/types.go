package policy

import (
	"github.com/openfroyo/decom/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is informational only.
	SeverityInfo Severity = "info"

	// SeverityWarning is logged but the subject stays in the plan.
	SeverityWarning Severity = "warning"

	// SeverityError excludes the subject from the plan.
	SeverityError Severity = "error"

	// SeverityCritical excludes the subject from the plan.
	SeverityCritical Severity = "critical"
)

// Blocks reports whether a violation of this severity excludes its subject.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is one Rego module evaluated against every plan.
// The module must define a deny set in its package.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego is the policy source.
	Rego string `json:"rego"`

	// Severity applies to violations that carry none.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Source is the file the policy came from, or "builtin".
	Source string `json:"source,omitempty"`
}

// SubjectKind names what a violation refers to.
type SubjectKind string

const (
	SubjectConfigEntry SubjectKind = SubjectKind(engine.TargetConfigEntry)
	SubjectFileTree    SubjectKind = SubjectKind(engine.TargetFileTree)
	SubjectService     SubjectKind = "service"
	SubjectModule      SubjectKind = "module"
)

// Violation is one element of a policy's deny set.
type Violation struct {
	Policy   string      `json:"policy"`
	Kind     SubjectKind `json:"kind"`
	Subject  string      `json:"subject"`
	Severity Severity    `json:"severity"`
	Message  string      `json:"message"`
}

// Input is the document policies see as input.
type Input struct {
	Product  string         `json:"product"`
	OSMajor  int            `json:"os_major"`
	Targets  []InputTarget  `json:"targets"`
	Services []InputService `json:"services"`
	Modules  []string       `json:"modules"`

	// PlatformServices are the services the dependency manager suspends.
	PlatformServices []string `json:"platform_services"`
}

// InputTarget is a planned config entry or file tree.
type InputTarget struct {
	Kind   string `json:"kind"`
	Path   string `json:"path"`
	Origin string `json:"origin,omitempty"`
}

// InputService is a planned service.
type InputService struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

// NewInput builds the policy input for a plan.
func NewInput(plan *engine.Plan, platformServices []string) *Input {
	in := &Input{
		Product:          plan.Product,
		OSMajor:          plan.OSMajor,
		Targets:          make([]InputTarget, 0, len(plan.Targets)),
		Services:         make([]InputService, 0, len(plan.Services)),
		Modules:          append([]string{}, plan.Modules...),
		PlatformServices: append([]string{}, platformServices...),
	}
	for _, t := range plan.Targets {
		in.Targets = append(in.Targets, InputTarget{Kind: string(t.Kind), Path: t.Path, Origin: t.Origin})
	}
	for _, s := range plan.Services {
		in.Services = append(in.Services, InputService{Name: s.Name, DisplayName: s.DisplayName})
	}
	return in
}
