package graph

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseDefinition decodes a YAML workflow definition.
//
// Guardrails may be written in the structured form
//
//	input_guardrails:
//	  - name: quality_check
//	    config: {min_length: 50}
//
// or as bare names with their configuration in a sibling "<name>_config"
// key:
//
//	output_guardrails: [quality_check]
//	quality_check_config: {min_length: 50}
//
// Unknown top-level keys are rejected; unknown node keys other than
// "<name>_config" are rejected too.
func ParseDefinition(data []byte) (WorkflowGraph, error) {
	var def workflowDefinition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return WorkflowGraph{}, fmt.Errorf("failed to decode workflow definition: %w", err)
	}

	wf := WorkflowGraph{
		Name:  def.Name,
		Edges: def.Edges,
		Merge: def.Merge,
	}
	for _, n := range def.Nodes {
		node, err := n.node()
		if err != nil {
			return WorkflowGraph{}, err
		}
		wf.Nodes = append(wf.Nodes, node)
	}
	return wf, nil
}

// LoadDefinition reads and decodes the YAML workflow definition at path.
func LoadDefinition(path string) (WorkflowGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return WorkflowGraph{}, fmt.Errorf("failed to read workflow definition: %w", err)
	}
	wf, err := ParseDefinition(data)
	if err != nil {
		return WorkflowGraph{}, fmt.Errorf("%s: %w", path, err)
	}
	return wf, nil
}

// MarshalDefinition encodes wf as YAML in the structured form.
func MarshalDefinition(wf WorkflowGraph) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(wf); err != nil {
		return nil, fmt.Errorf("failed to encode workflow definition: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type workflowDefinition struct {
	Name  string           `yaml:"name"`
	Nodes []nodeDefinition `yaml:"nodes"`
	Edges []Edge           `yaml:"edges"`
	Merge MergeTable       `yaml:"merge"`
}

type nodeDefinition struct {
	ID               string                `yaml:"id"`
	Capability       string                `yaml:"capability"`
	Config           map[string]any        `yaml:"config"`
	InputGuardrails  []guardrailDefinition `yaml:"input_guardrails"`
	OutputGuardrails []guardrailDefinition `yaml:"output_guardrails"`
	Extra            map[string]any        `yaml:",inline"`
}

func (n nodeDefinition) node() (Node, error) {
	for key := range n.Extra {
		if !strings.HasSuffix(key, "_config") {
			return Node{}, fmt.Errorf("node %q: unknown key %q", n.ID, key)
		}
	}

	input, err := n.refs(n.InputGuardrails)
	if err != nil {
		return Node{}, err
	}
	output, err := n.refs(n.OutputGuardrails)
	if err != nil {
		return Node{}, err
	}
	return Node{
		ID:               n.ID,
		Capability:       n.Capability,
		Config:           n.Config,
		InputGuardrails:  input,
		OutputGuardrails: output,
	}, nil
}

func (n nodeDefinition) refs(defs []guardrailDefinition) ([]GuardrailRef, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	refs := make([]GuardrailRef, 0, len(defs))
	for _, d := range defs {
		ref := GuardrailRef{Name: d.Name, Config: d.Config}
		if ref.Config == nil {
			if raw, ok := n.Extra[d.Name+"_config"]; ok {
				cfg, ok := raw.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("node %q: %s_config must be a mapping", n.ID, d.Name)
				}
				ref.Config = cfg
			}
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// guardrailDefinition accepts either a bare guardrail name or a
// {name, config} mapping.
type guardrailDefinition struct {
	Name   string
	Config map[string]any
}

func (g *guardrailDefinition) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&g.Name)
	}

	var ref struct {
		Name   string         `yaml:"name"`
		Config map[string]any `yaml:"config"`
	}
	if err := value.Decode(&ref); err != nil {
		return err
	}
	if ref.Name == "" {
		return fmt.Errorf("line %d: guardrail name is required", value.Line)
	}
	g.Name, g.Config = ref.Name, ref.Config
	return nil
}
