// Package graph provides a checkpointing DAG execution engine.
//
// A WorkflowGraph is compiled into a Plan, whose steps run one after another
// against a shared State. Every step's output is merged through a MergeTable
// and snapshotted to a store.CheckpointStore, which is what makes Rewind and
// UpdateAndResume possible.
package graph

// WorkflowGraph is the definition of a workflow: its nodes in declaration
// order, the edges between them and an optional merge table for its state.
//
// Declaration order matters: it breaks ties in the topological sort, so the
// same definition always compiles to the same step order.
type WorkflowGraph struct {
	// Name identifies the workflow in catalogs and logs.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	Nodes []Node `json:"nodes" yaml:"nodes"`
	Edges []Edge `json:"edges" yaml:"edges"`

	// Merge overrides the engine's default merge table for this workflow.
	Merge MergeTable `json:"merge,omitempty" yaml:"merge,omitempty"`
}
