package graph

// Terminal is the edge target marking the end of a workflow. It cannot be used
// as a node id.
const Terminal = "end"

// Edge is a directed dependency between two nodes. Target may be Terminal.
type Edge struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}
