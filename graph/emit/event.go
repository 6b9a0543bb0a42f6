package emit

import "time"

// Event types emitted by the engine.
const (
	// ExecutionStarted follows checkpoint #0 of a new thread.
	ExecutionStarted = "execution_started"

	// NodeStarted precedes a capability invocation.
	NodeStarted = "node_started"

	// NodeUpdate carries one progress update from a running capability.
	NodeUpdate = "node_update"

	// NodeCompleted follows the checkpoint written for a finished step.
	NodeCompleted = "node_completed"

	// ExecutionCompleted is terminal: every step has run.
	ExecutionCompleted = "execution_completed"

	// ExecutionFailed is terminal: a step failed. The payload carries
	// "kind" and "error".
	ExecutionFailed = "execution_failed"

	// ExecutionCancelled reports a run stopped by its caller. The thread
	// stays resumable.
	ExecutionCancelled = "execution_cancelled"

	// Rewound reports that a thread's pointer moved to an earlier checkpoint.
	Rewound = "rewound"
)

// Event is one observable occurrence in a thread's execution.
//
// Events are transient: they are delivered to sinks and never persisted
// beyond the checkpoint they accompany.
type Event struct {
	// Type is one of the event type constants.
	Type string `json:"type"`

	// ThreadID identifies the execution thread.
	ThreadID string `json:"thread_id"`

	// NodeID is the node the event concerns; empty for thread-level events.
	NodeID string `json:"node_id,omitempty"`

	// Sequence is the checkpoint sequence the thread was at when the event
	// was emitted.
	Sequence int `json:"sequence"`

	// Payload carries event-specific data. For node_update it is the
	// capability's update (status, message and any fields it produced).
	Payload map[string]any `json:"payload,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Terminal reports whether the event ends a run.
func (e Event) Terminal() bool {
	return e.Type == ExecutionCompleted || e.Type == ExecutionFailed
}
