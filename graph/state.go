package graph

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// State is the shared workflow state: a mapping from field name to value.
//
// Values held in a State are always JSON-native (string, float64, bool, nil,
// []any, map[string]any). The engine normalizes every initial state and every
// capability delta through Normalize before merging, so a State read back from
// any checkpoint store compares equal to the State that was appended.
type State map[string]any

// MergePolicy names how a field combines a new value with the value it already
// holds.
type MergePolicy string

const (
	// Overwrite replaces the old value with the new one (last write wins).
	// Fields without a declared policy use Overwrite.
	Overwrite MergePolicy = "overwrite"

	// Append concatenates the new value onto the old sequence, preserving
	// arrival order. Scalars on either side are coerced to one-element
	// sequences.
	Append MergePolicy = "append"
)

// MergeTable declares the merge policy for each State field.
//
// The table is the single authority for combining partial updates. Merge is
// pure and order-preserving, which is what makes a rewound and re-run thread
// reproduce the same checkpoints as the original run.
//
// Example:
//
//	table := graph.MergeTable{"messages": graph.Append}
//	s := table.Merge(graph.State{"messages": []any{"a"}}, map[string]any{"messages": "b"})
//	// s["messages"] == []any{"a", "b"}
type MergeTable map[string]MergePolicy

// PolicyFor returns the declared policy for field, defaulting to Overwrite.
func (t MergeTable) PolicyFor(field string) MergePolicy {
	if p, ok := t[field]; ok && p != "" {
		return p
	}
	return Overwrite
}

// Validate reports an unknown policy name.
func (t MergeTable) Validate() error {
	for field, p := range t {
		switch p {
		case Overwrite, Append, "":
		default:
			return fmt.Errorf("field %q: unknown merge policy %q", field, p)
		}
	}
	return nil
}

// Merge returns a new State with delta folded into old. Neither argument is
// modified. Fields are applied in sorted key order so the result never depends
// on map iteration.
func (t MergeTable) Merge(old State, delta map[string]any) State {
	merged := make(State, len(old)+len(delta))
	for k, v := range old {
		merged[k] = v
	}

	for _, field := range sortedKeys(delta) {
		value := delta[field]
		switch t.PolicyFor(field) {
		case Append:
			prev := toSequence(merged[field])
			next := toSequence(value)
			combined := make([]any, 0, len(prev)+len(next))
			combined = append(combined, prev...)
			combined = append(combined, next...)
			merged[field] = combined
		default:
			merged[field] = value
		}
	}

	return merged
}

// toSequence coerces v to a []any. nil yields an empty sequence, any slice or
// array is copied element by element, and every other value becomes a
// one-element sequence.
func toSequence(v any) []any {
	switch s := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]any, len(s))
		copy(out, s)
		return out
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = rv.Index(i).Interface()
		}
		return out
	}

	return []any{v}
}

// Normalize deep-copies m through a JSON round trip so the result holds only
// JSON-native values and shares nothing with the input. A nil map normalizes
// to an empty State.
func Normalize(m map[string]any) (State, error) {
	if m == nil {
		return State{}, nil
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}

	var copied State
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if copied == nil {
		copied = State{}
	}

	return copied, nil
}

// Clone returns a deep copy of s. States built by the engine are already
// normalized, so the round trip cannot fail for them.
func (s State) Clone() State {
	c, err := Normalize(s)
	if err != nil {
		// Only reachable for hand-built states holding non-JSON values.
		shallow := make(State, len(s))
		for k, v := range s {
			shallow[k] = v
		}
		return shallow
	}
	return c
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
