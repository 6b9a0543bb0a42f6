package graph

import (
	"errors"
	"fmt"

	"github.com/dshills/rewindgraph/graph/guard"
	"github.com/dshills/rewindgraph/graph/store"
)

// ErrNoPendingSteps is returned by Step when every node of the plan has run.
var ErrNoPendingSteps = errors.New("no pending steps: execution is complete")

// ErrExecutionFailed is returned by Step and RunToCompletion on a thread whose
// execution already failed. Rewind or UpdateAndResume make it runnable again.
var ErrExecutionFailed = errors.New("execution failed: rewind to resume")

// ErrCapabilityPanic is the cause of a *CapabilityError raised when a
// capability panics while producing its stream.
var ErrCapabilityPanic = errors.New("capability panicked")

// Error kinds reported in execution_failed events and driver replies.
const (
	KindGraphValidation     = "GraphValidationError"
	KindValidation          = "ValidationError"
	KindCapability          = "CapabilityError"
	KindNotFound            = "NotFoundError"
	KindConcurrentExecution = "ConcurrentExecutionError"
	KindInternal            = "InternalError"
)

// GraphValidationError reports a workflow definition that violates one of the
// compile invariants. Compilation is all-or-nothing: when this error is
// returned no plan exists and nothing was checkpointed.
type GraphValidationError struct {
	// Invariant names the violated rule, e.g. "unique-node-ids" or "acyclic".
	Invariant string

	// NodeID is the offending node, when one can be named.
	NodeID string

	// Edge is the offending edge, when one can be named.
	Edge *Edge

	Message string
}

func (e *GraphValidationError) Error() string {
	switch {
	case e.NodeID != "":
		return fmt.Sprintf("graph validation (%s): node %q: %s", e.Invariant, e.NodeID, e.Message)
	case e.Edge != nil:
		return fmt.Sprintf("graph validation (%s): edge %s->%s: %s", e.Invariant, e.Edge.Source, e.Edge.Target, e.Message)
	default:
		return fmt.Sprintf("graph validation (%s): %s", e.Invariant, e.Message)
	}
}

// CapabilityError reports a capability that signalled failure, either with an
// error-status update or by terminating its stream abnormally.
type CapabilityError struct {
	Capability string
	NodeID     string
	Message    string
	Cause      error
}

func (e *CapabilityError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	return fmt.Sprintf("capability %s (node %s): %s", e.Capability, e.NodeID, msg)
}

func (e *CapabilityError) Unwrap() error {
	return e.Cause
}

// NotFoundError reports a lookup miss for a thread, checkpoint, node or
// capability. It matches store.ErrNotFound with errors.Is.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error {
	return store.ErrNotFound
}

// ConcurrentExecutionError is returned when an operation needs exclusive
// access to a thread that has a run in flight.
type ConcurrentExecutionError struct {
	ThreadID  string
	Operation string
}

func (e *ConcurrentExecutionError) Error() string {
	return fmt.Sprintf("%s on thread %s: a run is already in progress", e.Operation, e.ThreadID)
}

// StepError wraps the failure of one step, naming the node that failed. Err is
// a *guard.ValidationError or a *CapabilityError.
type StepError struct {
	NodeID string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.NodeID, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// EngineError represents an error from Engine operations that is not tied to a
// step, such as misconfiguration or a store failure.
type EngineError struct {
	Message string
	Code    string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// ErrorKind classifies err into one of the Kind constants.
func ErrorKind(err error) string {
	var (
		gve *GraphValidationError
		ve  *guard.ValidationError
		ce  *CapabilityError
		nfe *NotFoundError
		cee *ConcurrentExecutionError
	)

	switch {
	case errors.As(err, &gve):
		return KindGraphValidation
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &ce):
		return KindCapability
	case errors.As(err, &cee):
		return KindConcurrentExecution
	case errors.As(err, &nfe), errors.Is(err, store.ErrNotFound):
		return KindNotFound
	default:
		return KindInternal
	}
}
