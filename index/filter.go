package index

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// LevelFilter accepts only entries tagged with the given level name.
func LevelFilter(name string) FilterFunc {
	return func(m Metadata) bool {
		return m.Level() == name
	}
}

// CompileFilter builds a FilterFunc from a CEL expression. The expression
// sees two variables: level (the entry's level tag, "" when untagged) and
// metadata (the full tag map). It must evaluate to a bool, for example:
//
//	level == "domain"
//	level in ["daily", "session"] && metadata.source == "crawler"
//
// Candidates whose evaluation fails (for example a missing metadata field)
// are rejected.
func CompileFilter(expr string) (FilterFunc, error) {
	env, err := cel.NewEnv(
		cel.Variable("level", cel.StringType),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create filter environment: %w", err)
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile filter %q: %w", expr, iss.Err())
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("filter %q must evaluate to bool, got %s", expr, t)
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build filter program: %w", err)
	}

	return func(m Metadata) bool {
		meta := map[string]any(m)
		if meta == nil {
			meta = map[string]any{}
		}
		out, _, err := prg.Eval(map[string]any{
			"level":    m.Level(),
			"metadata": meta,
		})
		if err != nil {
			return false
		}
		ok, _ := out.Value().(bool)
		return ok
	}, nil
}
