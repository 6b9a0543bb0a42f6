package graph

import (
	"time"

	"github.com/dshills/rewindgraph/graph/store"
)

// StartStep is the step name of checkpoint 0, which holds the initial state.
const StartStep = "start"

// Status is the lifecycle state of an Execution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Execution is the engine's record of one thread.
//
// A rewind moves a completed or failed execution back to running; a rewind to
// the end of the plan leaves it completed.
type Execution struct {
	ID     string `json:"id"`
	Graph  string `json:"graph,omitempty"`
	Status Status `json:"status"`

	// NodeStates holds the last update payload observed from each node.
	NodeStates map[string]map[string]any `json:"node_states"`

	// Params holds per-node overrides set by UpdateAndResume. They are
	// overlaid on the node's config whenever the node runs.
	Params map[string]map[string]any `json:"params,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`

	// Error and ErrorKind describe the failure that stopped the thread.
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

func (x Execution) clone() Execution {
	c := x
	c.NodeStates = cloneNested(x.NodeStates)
	c.Params = cloneNested(x.Params)
	return c
}

func cloneNested(m map[string]map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any, len(m))
	for k, inner := range m {
		c, err := Normalize(inner)
		if err != nil {
			c = make(State, len(inner))
			for ik, iv := range inner {
				c[ik] = iv
			}
		}
		out[k] = c
	}
	return out
}

// Snapshot is the current view of a thread.
type Snapshot struct {
	ThreadID string `json:"thread_id"`

	// Sequence is the checkpoint the thread's pointer is at.
	Sequence int `json:"sequence"`

	// State is the committed state at Sequence.
	State State `json:"state"`

	// Live is the running state of the step in flight, including deltas
	// merged from updates observed so far. Nil when no step is running.
	Live State `json:"live,omitempty"`

	// Pending lists the node ids still to run, in plan order. Empty once the
	// execution has completed.
	Pending []string `json:"pending"`

	Execution Execution `json:"execution"`
}

// History is the checkpoint log of a thread, oldest first.
type History []store.Checkpoint

// Latest returns the last checkpoint, or false for an empty history.
func (h History) Latest() (store.Checkpoint, bool) {
	if len(h) == 0 {
		return store.Checkpoint{}, false
	}
	return h[len(h)-1], true
}
