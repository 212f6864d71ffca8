package engine

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Pattern is a case-insensitive display-name glob.
type Pattern struct {
	raw string
	g   glob.Glob
}

// CompilePattern compiles a glob such as "*Contoso*". Matching ignores case.
func CompilePattern(pattern string) (*Pattern, error) {
	g, err := glob.Compile(strings.ToLower(pattern))
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return &Pattern{raw: pattern, g: g}, nil
}

// Match reports whether s matches. A nil pattern matches nothing.
func (p *Pattern) Match(s string) bool {
	if p == nil {
		return false
	}
	return p.g.Match(strings.ToLower(s))
}

func (p *Pattern) String() string {
	if p == nil {
		return ""
	}
	return p.raw
}

// serviceMatcher matches services by vendor glob or an auxiliary display name.
type serviceMatcher struct {
	pattern   *Pattern
	auxiliary map[string]struct{}
}

func newServiceMatcher(pattern string, auxiliary []string) (*serviceMatcher, error) {
	m := &serviceMatcher{auxiliary: make(map[string]struct{}, len(auxiliary))}
	if pattern != "" {
		p, err := CompilePattern(pattern)
		if err != nil {
			return nil, err
		}
		m.pattern = p
	}
	for _, a := range auxiliary {
		m.auxiliary[strings.ToLower(a)] = struct{}{}
	}
	return m, nil
}

func (m *serviceMatcher) Match(svc ServiceDescriptor) bool {
	if m.pattern.Match(svc.DisplayName) {
		return true
	}
	_, ok := m.auxiliary[strings.ToLower(svc.DisplayName)]
	return ok
}

// Filter returns matching services in enumeration order.
func (m *serviceMatcher) Filter(all []ServiceDescriptor) []ServiceDescriptor {
	var out []ServiceDescriptor
	for _, svc := range all {
		if m.Match(svc) {
			out = append(out, svc)
		}
	}
	return out
}
