package engine

import (
	"fmt"

	"github.com/arnavsurve/stepwright/pkg/memory"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
)

// allowedBuiltin is the only function a condition may call.
const allowedBuiltin = "len"

// ConditionEnv builds the evaluation environment: every input and generated
// variable as a list under its own name, the first value of each under
// first, and the current page url.
func ConditionEnv(m *memory.Memory, currentURL string) map[string]any {
	env := map[string]any{}
	first := map[string]string{}
	add := func(vars map[string][]string) {
		for name, vals := range vars {
			list := append([]string{}, vals...)
			env[name] = list
			if len(list) > 0 {
				first[name] = list[0]
			} else {
				first[name] = ""
			}
		}
	}
	add(m.GeneratedVariables)
	add(m.InputVariables)
	env["first"] = first
	env["current_page_url"] = currentURL
	return env
}

// EvaluateCondition evaluates a boolean expression over env. Only
// comparisons, boolean logic, literals, variable lookups, indexing, the
// membership and string operators and len are accepted.
func EvaluateCondition(condition string, env map[string]any) (bool, error) {
	tree, err := parser.Parse(condition)
	if err != nil {
		return false, fmt.Errorf("parse condition %q: %w", condition, err)
	}
	guard := &restrictedNodes{}
	ast.Walk(&tree.Node, guard)
	if guard.err != nil {
		return false, fmt.Errorf("condition %q: %w", condition, guard.err)
	}

	program, err := expr.Compile(condition,
		expr.Env(env),
		expr.AsBool(),
		expr.DisableAllBuiltins(),
		expr.EnableBuiltin(allowedBuiltin),
	)
	if err != nil {
		return false, fmt.Errorf("compile condition %q: %w", condition, err)
	}
	output, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("eval condition %q: %w", condition, err)
	}
	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not return bool (got %T: %v)", condition, output, output)
	}
	return result, nil
}

type restrictedNodes struct {
	err error
}

func (v *restrictedNodes) Visit(node *ast.Node) {
	if v.err != nil {
		return
	}
	switch n := (*node).(type) {
	case *ast.CallNode:
		if id, ok := n.Callee.(*ast.IdentifierNode); ok && id.Value == allowedBuiltin {
			return
		}
		v.err = fmt.Errorf("function calls are not allowed")
	case *ast.BuiltinNode:
		if n.Name != allowedBuiltin {
			v.err = fmt.Errorf("builtin %q is not allowed", n.Name)
		}
	case *ast.PointerNode:
		v.err = fmt.Errorf("pointer expressions are not allowed")
	case *ast.ClosureNode:
		v.err = fmt.Errorf("closures are not allowed")
	case *ast.VariableDeclaratorNode:
		v.err = fmt.Errorf("variable declarations are not allowed")
	}
}
