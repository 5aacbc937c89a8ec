package refhandlers

import "github.com/expr-lang/expr"

// evalExpr compiles and runs a single expr-lang expression against vars.
// Unlike internal/adapters/condeval it neither caches the compiled program
// nor constrains the result type, since code_job expressions (unlike
// condition expressions) may return any value.
func evalExpr(code string, vars map[string]any) (any, error) {
	program, err := expr.Compile(code, expr.Env(map[string]interface{}{}))
	if err != nil {
		return nil, err
	}
	return expr.Run(program, vars)
}
