package driver

import (
	"time"

	"github.com/dshills/rewindgraph/graph"
)

// Request types accepted by Serve.
const (
	TypeExecute           = "execute"
	TypeGetHistory        = "get_history"
	TypeRewind            = "rewind"
	TypeUpdateAndContinue = "update_and_continue"
	TypeGetState          = "get_state"
)

// Reply types written by Serve. Engine events are forwarded with their own
// type (node_update, node_completed, execution_completed, ...).
const (
	ReplyExecutionStarted = "execution_started"
	ReplyHistory          = "history"
	ReplyRewound          = "rewound"
	ReplyCurrentState     = "current_state"
	ReplyError            = "error"
)

// Request is one control message from a client.
//
// ThreadID may be omitted on everything but execute; the connection's most
// recent thread is used instead.
type Request struct {
	Type string `json:"type" validate:"required,oneof=execute get_history rewind update_and_continue get_state"`

	// execute
	Workflow string               `json:"workflow,omitempty" validate:"omitempty,max=128,excluded_with=Graph"`
	Graph    *graph.WorkflowGraph `json:"graph,omitempty"`
	Input    map[string]any       `json:"input,omitempty"`
	Question string               `json:"question,omitempty"`

	ThreadID string `json:"thread_id,omitempty" validate:"omitempty,max=256"`

	// rewind
	Step *int `json:"step,omitempty" validate:"required_if=Type rewind,omitempty,gte=0"`

	// update_and_continue
	NodeID string         `json:"node_id,omitempty" validate:"required_if=Type update_and_continue"`
	Params map[string]any `json:"params,omitempty"`
}

// ExecutionStarted acknowledges an execute request.
type ExecutionStarted struct {
	Type      string    `json:"type"`
	ThreadID  string    `json:"thread_id"`
	Graph     string    `json:"graph"`
	Steps     []string  `json:"steps"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryEntry is one checkpoint in a history reply.
type HistoryEntry struct {
	Step      int            `json:"step"`
	StepName  string         `json:"step_name"`
	State     map[string]any `json:"state"`
	Digest    string         `json:"digest"`
	Timestamp time.Time      `json:"timestamp"`
}

// History answers get_history.
type History struct {
	Type     string         `json:"type"`
	ThreadID string         `json:"thread_id"`
	States   []HistoryEntry `json:"states"`
}

// Rewound answers rewind.
type Rewound struct {
	Type     string         `json:"type"`
	ThreadID string         `json:"thread_id"`
	Step     int            `json:"step"`
	State    map[string]any `json:"state"`
}

// CurrentState answers get_state.
type CurrentState struct {
	Type     string         `json:"type"`
	ThreadID string         `json:"thread_id"`
	Step     int            `json:"step"`
	Status   graph.Status   `json:"status"`
	State    map[string]any `json:"state"`
	Next     []string       `json:"next"`
}

// Error reports a rejected request or a failed operation. Kind is one of
// the graph error kinds, or KindInvalidRequest for malformed messages.
type Error struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id,omitempty"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
}

// KindInvalidRequest marks an Error caused by a malformed control message.
const KindInvalidRequest = "InvalidRequestError"
