package validate

import (
	"fmt"
	"strings"

	"sheet-ingest/internal/dataset"

	"github.com/Knetic/govaluate"
)

// expressionEvaluator is the subset of *govaluate.EvaluableExpression used here.
type expressionEvaluator interface {
	Evaluate(map[string]interface{}) (interface{}, error)
}

// newExpressionEvaluatorFunc can be replaced in tests.
var newExpressionEvaluatorFunc = func(expr string) (expressionEvaluator, error) {
	evalExpr, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return nil, err
	}
	return evalExpr, nil
}

type expressionRule struct {
	name string
	text string
	expr expressionEvaluator
}

// Expression compiles a boolean govaluate expression evaluated with the row's
// columns as parameters, e.g. "status == 'active' && amount > 0". Column names
// containing spaces are written in brackets: "[unit price] >= 0".
func Expression(name, expression string) (Rule, error) {
	expr, err := newExpressionEvaluatorFunc(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid expression '%s': %w", expression, err)
	}
	if name == "" {
		name = "expression"
	}
	return expressionRule{name: name, text: expression, expr: expr}, nil
}

func (r expressionRule) Name() string { return r.name }

func (r expressionRule) Evaluate(row dataset.Row) Verdict {
	result, err := r.expr.Evaluate(map[string]interface{}(row))
	if err != nil {
		return Failed("expression '%s' could not be evaluated: %s", r.text, strings.TrimSpace(err.Error()))
	}
	ok, isBool := result.(bool)
	if !isBool {
		return Failed("expression '%s' returned %T (%v), expected a boolean", r.text, result, result)
	}
	if !ok {
		return Failed("expression '%s' is false", r.text)
	}
	return Passed()
}
