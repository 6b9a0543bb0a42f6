package graph

// Node is one step of a workflow: an invocation of a named capability with its
// static configuration and the guardrails wrapped around it.
//
// Config is overlaid on the state handed to the capability, so a node can pin
// an input (for example a search query) regardless of what earlier steps
// produced. Parameters supplied through UpdateAndResume are overlaid on top of
// Config.
type Node struct {
	// ID uniquely identifies the node within its graph.
	ID string `json:"id" yaml:"id"`

	// Capability is the registry name of the work this node performs.
	Capability string `json:"capability" yaml:"capability"`

	// Config holds static input parameters for the capability.
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`

	// InputGuardrails validate the capability input, in order.
	InputGuardrails []GuardrailRef `json:"input_guardrails,omitempty" yaml:"input_guardrails,omitempty"`

	// OutputGuardrails validate the step's accumulated output, in order.
	OutputGuardrails []GuardrailRef `json:"output_guardrails,omitempty" yaml:"output_guardrails,omitempty"`
}

// GuardrailRef names a guardrail in the guard registry together with its
// configuration.
type GuardrailRef struct {
	Name   string         `json:"name" yaml:"name"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// nodeInput builds the mapping handed to a capability: a copy of the state
// overlaid with the node's config and then with any override params.
func nodeInput(state State, config, params map[string]any) (map[string]any, error) {
	input := make(map[string]any, len(state)+len(config)+len(params))
	for k, v := range state {
		input[k] = v
	}
	for k, v := range config {
		input[k] = v
	}
	for k, v := range params {
		input[k] = v
	}
	return Normalize(input)
}
