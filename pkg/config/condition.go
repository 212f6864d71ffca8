package config

import (
	"fmt"
	"strings"

	"go.starlark.net/starlark"

	"github.com/openfroyo/decom/pkg/engine"
)

// maxConditionSteps bounds a single condition evaluation.
const maxConditionSteps = 10000

// StarlarkCondition is an engine.Condition written as a Starlark expression
// over the host facts os_major and arch.
type StarlarkCondition struct {
	expr string
}

var _ engine.Condition = (*StarlarkCondition)(nil)

// CompileCondition checks expr by evaluating it once against zero facts.
// Undefined names and syntax errors are reported here rather than at plan time.
func CompileCondition(expr string) (*StarlarkCondition, error) {
	c := &StarlarkCondition{expr: strings.TrimSpace(expr)}
	if c.expr == "" {
		return nil, fmt.Errorf("condition is empty")
	}
	if _, err := c.Holds(engine.HostFacts{}); err != nil {
		return nil, err
	}
	return c, nil
}

// Holds evaluates the expression. The result must be a bool.
func (c *StarlarkCondition) Holds(facts engine.HostFacts) (bool, error) {
	thread := &starlark.Thread{
		Name:  "condition",
		Print: func(_ *starlark.Thread, _ string) {},
	}
	thread.SetMaxExecutionSteps(maxConditionSteps)

	predeclared := starlark.StringDict{
		"os_major": starlark.MakeInt(facts.OSMajor),
		"arch":     starlark.String(facts.Arch),
	}

	v, err := starlark.Eval(thread, "condition", c.expr, predeclared)
	if err != nil {
		return false, fmt.Errorf("condition %q failed: %w", c.expr, err)
	}
	b, ok := v.(starlark.Bool)
	if !ok {
		return false, fmt.Errorf("condition %q returned %s, want bool", c.expr, v.Type())
	}
	return bool(b), nil
}

func (c *StarlarkCondition) String() string {
	return c.expr
}
