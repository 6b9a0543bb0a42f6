// Package tool provides external actions capabilities can invoke.
package tool

import "context"

// Tool is an external action with a map-in, map-out contract.
//
// Implementations must honour ctx cancellation and must not retain input
// after Call returns.
type Tool interface {
	// Name identifies the tool in logs and progress events.
	Name() string

	Call(ctx context.Context, input map[string]any) (map[string]any, error)
}
