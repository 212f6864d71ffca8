package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/openfroyo/decom/pkg/engine"
)

// Guard evaluates Rego policies against a plan and moves refused items into
// the plan's exclusions. It implements engine.PlanGuard.
type Guard struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	platform []string
	logger   zerolog.Logger
}

var _ engine.PlanGuard = (*Guard)(nil)

// compiledPolicy is a policy with its deny query prepared.
type compiledPolicy struct {
	policy Policy
	query  rego.PreparedEvalQuery
}

// NewGuard creates a guard with the built-in policies. platformServices are
// passed to policies as input.platform_services.
func NewGuard(ctx context.Context, logger zerolog.Logger, platformServices []string) (*Guard, error) {
	g := &Guard{
		policies: make(map[string]*compiledPolicy),
		platform: append([]string(nil), platformServices...),
		logger:   logger.With().Str("component", "policy").Logger(),
	}

	for _, p := range Builtin() {
		if err := g.Add(ctx, p); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", p.Name, err)
		}
	}

	g.logger.Debug().Int("count", len(g.policies)).Msg("Built-in policies loaded")
	return g, nil
}

// Add compiles a policy and registers it, replacing one of the same name.
func (g *Guard) Add(ctx context.Context, p Policy) error {
	module, err := ast.ParseModule(p.Name+".rego", p.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy %s: %w", p.Name, err)
	}

	query := module.Package.Path.String() + ".deny"
	prepared, err := rego.New(
		rego.ParsedModule(module),
		rego.Query(query),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare policy %s: %w", p.Name, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.policies[p.Name] = &compiledPolicy{policy: p, query: prepared}

	g.logger.Debug().Str("policy", p.Name).Str("query", query).Msg("Policy compiled")
	return nil
}

// LoadPaths loads and compiles policies from files or directories.
func (g *Guard) LoadPaths(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	policies, err := NewLoader(g.logger).LoadFromPaths(paths)
	if err != nil {
		return err
	}
	for _, p := range policies {
		if err := g.Add(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Policies returns the registered policies sorted by name.
func (g *Guard) Policies() []Policy {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Policy, 0, len(g.policies))
	for _, cp := range g.policies {
		out = append(out, cp.policy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// EnablePolicy enables a policy.
func (g *Guard) EnablePolicy(name string) error {
	return g.setEnabled(name, true)
}

// DisablePolicy disables a policy.
func (g *Guard) DisablePolicy(name string) error {
	return g.setEnabled(name, false)
}

func (g *Guard) setEnabled(name string, enabled bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cp, ok := g.policies[name]
	if !ok {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	g.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy state changed")
	return nil
}

// Evaluate runs every enabled policy against plan. An evaluation error fails
// the whole review so that nothing unreviewed is executed.
func (g *Guard) Evaluate(ctx context.Context, plan *engine.Plan) ([]Violation, error) {
	input := NewInput(plan, g.platform)

	g.mu.RLock()
	compiled := make([]*compiledPolicy, 0, len(g.policies))
	for _, cp := range g.policies {
		if cp.policy.Enabled {
			compiled = append(compiled, cp)
		}
	}
	g.mu.RUnlock()
	sort.Slice(compiled, func(i, j int) bool { return compiled[i].policy.Name < compiled[j].policy.Name })

	var violations []Violation
	for _, cp := range compiled {
		rs, err := cp.query.Eval(ctx, rego.EvalInput(input))
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate policy %s: %w", cp.policy.Name, err)
		}
		for _, result := range rs {
			if len(result.Expressions) == 0 {
				continue
			}
			denySet, ok := result.Expressions[0].Value.([]interface{})
			if !ok {
				continue
			}
			for _, d := range denySet {
				violations = append(violations, createViolation(cp.policy, d))
			}
		}
	}

	sort.SliceStable(violations, func(i, j int) bool {
		if violations[i].Policy != violations[j].Policy {
			return violations[i].Policy < violations[j].Policy
		}
		return violations[i].Subject < violations[j].Subject
	})
	return violations, nil
}

// createViolation reads one deny element. Elements may be plain strings or
// objects with kind, subject, message and severity.
func createViolation(p Policy, result interface{}) Violation {
	v := Violation{Policy: p.Name, Severity: p.Severity}

	switch r := result.(type) {
	case string:
		v.Message = r
	case map[string]interface{}:
		if s, ok := r["kind"].(string); ok {
			v.Kind = SubjectKind(s)
		}
		if s, ok := r["subject"].(string); ok {
			v.Subject = s
		}
		if s, ok := r["message"].(string); ok {
			v.Message = s
		}
		if s, ok := r["severity"].(string); ok && s != "" {
			v.Severity = Severity(strings.ToLower(s))
		}
	default:
		v.Message = fmt.Sprintf("%v", result)
	}
	return v
}

// Review evaluates the policies and returns a copy of plan without the
// subjects of blocking violations. Those become exclusions. Warnings are only
// logged. plan itself is not modified.
func (g *Guard) Review(ctx context.Context, plan *engine.Plan) (*engine.Plan, error) {
	violations, err := g.Evaluate(ctx, plan)
	if err != nil {
		return nil, err
	}

	blocked := make(map[string]Violation)
	for _, v := range violations {
		if !v.Severity.Blocks() || v.Kind == "" || v.Subject == "" {
			g.logger.Warn().
				Str("policy", v.Policy).
				Str("kind", string(v.Kind)).
				Str("subject", v.Subject).
				Str("severity", string(v.Severity)).
				Msg(v.Message)
			continue
		}
		key := subjectKey(v.Kind, v.Subject)
		if _, seen := blocked[key]; !seen {
			blocked[key] = v
		}
	}

	out := *plan
	out.Targets = make([]engine.Target, 0, len(plan.Targets))
	out.Services = make([]engine.ServiceDescriptor, 0, len(plan.Services))
	out.Modules = nil
	out.Exclusions = append([]engine.Exclusion(nil), plan.Exclusions...)

	exclude := func(v Violation, subject string) {
		out.Exclusions = append(out.Exclusions, engine.Exclusion{
			Subject:  subject,
			Policy:   v.Policy,
			Severity: string(v.Severity),
			Message:  v.Message,
		})
		g.logger.Debug().Str("policy", v.Policy).Str("subject", subject).Msg("Excluded from plan")
	}

	for _, t := range plan.Targets {
		if v, ok := blocked[subjectKey(SubjectKind(t.Kind), t.Path)]; ok {
			exclude(v, t.String())
			continue
		}
		out.Targets = append(out.Targets, t)
	}
	for _, s := range plan.Services {
		if v, ok := blocked[subjectKey(SubjectService, s.Name)]; ok {
			exclude(v, "service "+s.Name)
			continue
		}
		out.Services = append(out.Services, s)
	}
	for _, m := range plan.Modules {
		if v, ok := blocked[subjectKey(SubjectModule, m)]; ok {
			exclude(v, "module "+m)
			continue
		}
		out.Modules = append(out.Modules, m)
	}

	return &out, nil
}

// subjectKey matches violation subjects to plan items case-insensitively.
func subjectKey(kind SubjectKind, subject string) string {
	switch kind {
	case SubjectConfigEntry, SubjectFileTree:
		return engine.Target{Kind: engine.TargetKind(kind), Path: subject}.Key()
	default:
		return string(kind) + ":" + strings.ToLower(subject)
	}
}
