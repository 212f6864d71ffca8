package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Target origins recorded on planned targets.
const (
	OriginInstaller   = "installer"
	OriginUninstall   = "uninstall"
	OriginLegacy      = "legacy"
	OriginConditional = "conditional"
	OriginVendorKey   = "vendor_key"
	OriginFileTree    = "file_tree"
)

// Planner merges locator output with product knowledge into a Plan.
type Planner struct {
	host      Host
	knowledge Knowledge
	services  *serviceMatcher
	logger    zerolog.Logger
}

// NewPlanner creates a planner for the given product knowledge.
func NewPlanner(host Host, knowledge Knowledge, logger zerolog.Logger) (*Planner, error) {
	knowledge = knowledge.WithDefaults()
	if err := knowledge.Validate(); err != nil {
		return nil, err
	}
	matcher, err := newServiceMatcher(knowledge.ServicePattern, knowledge.AuxiliaryServices)
	if err != nil {
		return nil, err
	}
	return &Planner{
		host:      host,
		knowledge: knowledge,
		services:  matcher,
		logger:    logger.With().Str("component", "planner").Logger(),
	}, nil
}

// Plan computes the removal plan. It never fails: sub-query errors are logged
// and treated as no match. Calling it twice on an unchanged host yields the
// same targets and services.
func (p *Planner) Plan(ctx context.Context, located *LocateResult, osMajor int) *Plan {
	plan := &Plan{
		ID:        uuid.New().String(),
		Product:   p.knowledge.Product,
		OSMajor:   osMajor,
		CreatedAt: time.Now(),
		Located:   located,
	}
	seen := make(map[string]struct{})
	add := func(t Target) {
		if t.Path == "" {
			return
		}
		key := t.Key()
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		plan.Targets = append(plan.Targets, t)
	}

	if located != nil && located.RegistryProductID != "" {
		for _, ns := range p.knowledge.InstallerNamespaces {
			add(NewConfigEntry(strings.ReplaceAll(ns, PlaceholderProductID, located.RegistryProductID), OriginInstaller))
		}
		if located.InstallerID != "" {
			add(NewConfigEntry(strings.ReplaceAll(p.knowledge.UninstallKey, PlaceholderInstallerID, located.InstallerID), OriginUninstall))
		} else {
			p.logger.Warn().Str("product_id", located.RegistryProductID).Msg("Product has no installer id, skipping uninstall key")
		}
	}

	if osMajor < p.knowledge.LegacyBelowMajor {
		for _, key := range p.knowledge.LegacyEntries {
			add(NewConfigEntry(p.expand(key), OriginLegacy))
		}
	}

	facts := HostFacts{OSMajor: osMajor, Arch: p.arch()}
	for _, ct := range p.knowledge.Conditional {
		if ct.When != nil {
			ok, err := ct.When.Holds(facts)
			if err != nil {
				p.logger.Warn().Err(err).Str("condition", ct.When.String()).Str("target", ct.Target.Path).Msg("Condition failed to evaluate, skipping target")
				continue
			}
			if !ok {
				continue
			}
		}
		t := ct.Target
		t.Path = p.expand(t.Path)
		if t.Kind == TargetFileTree {
			if !p.rooted(t.Path, OriginConditional) {
				continue
			}
			t = NewFileTree(t.Path, OriginConditional)
		} else {
			t = NewConfigEntry(t.Path, OriginConditional)
		}
		if p.exists(ctx, t) {
			add(p.sized(ctx, t))
		}
	}

	for _, key := range p.knowledge.VendorKeys {
		t := NewConfigEntry(p.expand(key), OriginVendorKey)
		if p.exists(ctx, t) {
			add(t)
		}
	}

	for _, path := range p.knowledge.FileTrees {
		path = p.expand(path)
		if !p.rooted(path, OriginFileTree) {
			continue
		}
		t := NewFileTree(path, OriginFileTree)
		if p.exists(ctx, t) {
			add(p.sized(ctx, t))
		}
	}

	for _, path := range p.knowledge.ModulePaths {
		path = p.expand(path)
		if !p.rooted(path, "module") {
			continue
		}
		if p.exists(ctx, NewFileTree(path, "")) {
			plan.Modules = append(plan.Modules, path)
		}
	}

	plan.Services = p.matchServices(ctx)

	p.logger.Info().
		Str("plan_id", plan.ID).
		Int("targets", len(plan.Targets)).
		Int("services", len(plan.Services)).
		Int("os_major", osMajor).
		Bool("located", located != nil).
		Msg("Plan computed")
	return plan
}

// matchServices returns installed services matching the vendor pattern or an auxiliary name.
func (p *Planner) matchServices(ctx context.Context) []ServiceDescriptor {
	all, err := p.host.Services.ListServices(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to enumerate services, treating as no match")
		return nil
	}
	return p.services.Filter(all)
}

// rooted drops filesystem paths that are relative after expansion, which
// happens when a %VAR% is unset on the host. A relative path would resolve
// against the working directory.
func (p *Planner) rooted(path, origin string) bool {
	if IsRootedPath(path) {
		return true
	}
	p.logger.Warn().Str("path", path).Str("origin", origin).Msg("Path is not rooted after expansion, skipping")
	return false
}

func (p *Planner) exists(ctx context.Context, t Target) bool {
	var (
		ok  bool
		err error
	)
	switch t.Kind {
	case TargetConfigEntry:
		ok, err = p.host.Registry.KeyExists(ctx, t.Path)
	case TargetFileTree:
		ok, err = p.host.Files.Exists(ctx, t.Path)
	}
	if err != nil {
		p.logger.Warn().Err(err).Str("target", t.Path).Str("kind", string(t.Kind)).Msg("Existence check failed, treating as absent")
		return false
	}
	return ok
}

// sized fills SizeBytes for file trees. Errors leave the size at zero.
func (p *Planner) sized(ctx context.Context, t Target) Target {
	if t.Kind != TargetFileTree {
		return t
	}
	entries, err := p.host.Files.Walk(ctx, t.Path)
	if err != nil {
		return t
	}
	for _, e := range entries {
		if !e.IsDir {
			t.SizeBytes += e.Size
		}
	}
	return t
}

func (p *Planner) arch() string {
	if p.host.OS == nil {
		return ""
	}
	return p.host.OS.Arch()
}

// expand substitutes %VAR% references from the host environment.
// Unknown variables are left untouched.
func (p *Planner) expand(path string) string {
	if p.host.OS == nil {
		return path
	}
	return ExpandEnv(path, p.host.OS.Getenv)
}

// ExpandEnv replaces %NAME% tokens using getenv. Tokens whose value is empty are kept.
func ExpandEnv(s string, getenv func(string) string) string {
	var b strings.Builder
	for {
		start := strings.IndexByte(s, '%')
		if start < 0 {
			b.WriteString(s)
			break
		}
		end := strings.IndexByte(s[start+1:], '%')
		if end < 0 {
			b.WriteString(s)
			break
		}
		end += start + 1
		name := s[start+1 : end]
		b.WriteString(s[:start])
		if v := getenv(name); name != "" && v != "" {
			b.WriteString(v)
			s = s[end+1:]
			continue
		}
		// keep the first % and rescan from the second, which may open a real token
		b.WriteString(s[start:end])
		s = s[end:]
	}
	return b.String()
}
