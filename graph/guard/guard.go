// Package guard provides the guardrails wrapped around a capability's input
// and output.
//
// A Guardrail inspects a mapping and either returns it or fails with a
// *ValidationError carrying a human-readable reason. Guardrails must be
// deterministic and free of side effects, because a rewound thread re-runs
// them and must reach the same verdict.
package guard

import (
	"context"
	"fmt"
)

// Guardrail validates data flowing into or out of a capability.
type Guardrail interface {
	// Name returns the registry name of the guardrail.
	Name() string

	// Validate returns data (possibly transformed by the guardrail's declared
	// transform) or a *ValidationError.
	Validate(ctx context.Context, data map[string]any) (map[string]any, error)
}

// ValidationError is a guardrail rejection.
type ValidationError struct {
	Guardrail string
	Field     string
	Reason    string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("guardrail %s rejected %q: %s", e.Guardrail, e.Field, e.Reason)
	}
	return fmt.Sprintf("guardrail %s: %s", e.Guardrail, e.Reason)
}

// Pipeline runs guardrails in declared order, feeding each one the output of
// the previous one and stopping at the first failure.
type Pipeline []Guardrail

// Run applies the pipeline to data. An empty pipeline returns data unchanged.
func (p Pipeline) Run(ctx context.Context, data map[string]any) (map[string]any, error) {
	current := data
	for _, g := range p {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := g.Validate(ctx, current)
		if err != nil {
			return nil, err
		}
		current = out
	}
	return current, nil
}

// Names lists the guardrails in the pipeline, in order.
func (p Pipeline) Names() []string {
	names := make([]string, len(p))
	for i, g := range p {
		names[i] = g.Name()
	}
	return names
}
