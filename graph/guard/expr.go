package guard

import (
	"context"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ExprCheck evaluates a boolean expr-lang expression with the data as its
// environment and rejects the data when the expression is false.
//
// Example configuration:
//
//	name: expr_check
//	config:
//	  expression: 'len(summary) >= 50 && word_count > 5'
//	  reason: summary is not substantial enough
type ExprCheck struct {
	Expression string
	Reason     string
	program    *vm.Program
}

// NewExprCheck compiles expression. Compilation errors surface here, before a
// run starts, rather than in the middle of a step.
func NewExprCheck(expression, reason string) (*ExprCheck, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, fmt.Errorf("expression is required")
	}

	program, err := expr.Compile(expression, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", expression, err)
	}

	if reason == "" {
		reason = "Expression not satisfied: " + expression
	}
	return &ExprCheck{Expression: expression, Reason: reason, program: program}, nil
}

// Name implements Guardrail.
func (e *ExprCheck) Name() string { return ExprCheckName }

// Validate implements Guardrail.
func (e *ExprCheck) Validate(_ context.Context, data map[string]any) (map[string]any, error) {
	out, err := expr.Run(e.program, data)
	if err != nil {
		return nil, &ValidationError{Guardrail: ExprCheckName, Reason: fmt.Sprintf("evaluation failed: %v", err)}
	}
	if ok, _ := out.(bool); !ok {
		return nil, &ValidationError{Guardrail: ExprCheckName, Reason: e.Reason}
	}
	return data, nil
}
