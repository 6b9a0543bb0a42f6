package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/rewindgraph/graph/emit"
	"github.com/dshills/rewindgraph/graph/guard"
	"github.com/dshills/rewindgraph/graph/store"
)

// Engine runs compiled workflows over checkpointed threads.
//
// The Engine:
//   - Compiles a WorkflowGraph and resolves its capabilities and guardrails
//   - Runs the plan one step at a time, merging each capability update into
//     the thread's state through the merge table
//   - Appends a checkpoint after every successful step
//   - Forwards progress events to the sink while steps run
//   - Moves a thread's pointer back to any checkpoint (Rewind) and re-runs
//     from a node with new parameters (UpdateAndResume)
//
// Threads are independent. Within a thread, at most one of Step,
// RunToCompletion, Rewind and UpdateAndResume runs at a time; an overlapping
// call fails with *ConcurrentExecutionError.
//
// Example:
//
//	caps := graph.NewRegistry()
//	_ = caps.Register("echo", echo)
//
//	engine, err := graph.New(caps, store.NewMemStore(), graph.WithSink(emit.NewLogSink(logger)))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	threadID, exec, err := engine.Execute(ctx, wf, map[string]any{"question": "..."})
type Engine struct {
	caps    *Registry
	store   store.CheckpointStore
	guards  *guard.Registry
	sink    emit.Sink
	merge   MergeTable
	metrics *PrometheusMetrics
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string

	mu      sync.RWMutex
	threads map[string]*thread
}

// compiled is a plan with its capabilities and guardrails resolved.
type compiled struct {
	plan   *Plan
	merge  MergeTable
	caps   map[string]Capability
	input  map[string]guard.Pipeline
	output map[string]guard.Pipeline
}

// thread is the in-memory side of one execution thread. Its durable side is
// the checkpoint log in the store.
type thread struct {
	id string
	c  *compiled

	mu      sync.Mutex
	exec    Execution
	state   State // committed state at cursor
	cursor  int   // sequence of the checkpoint the pointer is at
	live    State // running state of the step in flight
	running bool
}

// New creates an Engine that resolves capabilities from caps and persists
// checkpoints to st.
//
// Example:
//
//	engine, err := graph.New(caps, store.NewMemStore(),
//	    graph.WithMergeTable(graph.MergeTable{"messages": graph.Append}),
//	    graph.WithMetrics(graph.NewPrometheusMetrics(registry)),
//	)
func New(caps *Registry, st store.CheckpointStore, opts ...Option) (*Engine, error) {
	if caps == nil {
		return nil, &EngineError{Message: "capability registry is required", Code: "MISSING_REGISTRY"}
	}
	if st == nil {
		return nil, &EngineError{Message: "checkpoint store is required", Code: "MISSING_STORE"}
	}

	var cfg engineConfig
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	e := &Engine{
		caps:    caps,
		store:   st,
		guards:  cfg.guards,
		sink:    cfg.sink,
		merge:   cfg.merge,
		metrics: cfg.metrics,
		logger:  cfg.logger,
		now:     cfg.now,
		newID:   cfg.newID,
		threads: make(map[string]*thread),
	}
	if e.guards == nil {
		e.guards = guard.NewRegistry()
	}
	if e.sink == nil {
		e.sink = emit.NewNullSink()
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	return e, nil
}

// Compile compiles g and checks that every capability it names is registered
// and every guardrail it references can be built. It is what Start runs
// before writing anything.
func (e *Engine) Compile(g WorkflowGraph) (*Plan, error) {
	c, err := e.prepare(g)
	if err != nil {
		return nil, err
	}
	return c.plan, nil
}

func (e *Engine) prepare(g WorkflowGraph) (*compiled, error) {
	plan, err := Compile(g)
	if err != nil {
		return nil, err
	}

	merge := make(MergeTable, len(e.merge)+len(plan.merge))
	for field, p := range e.merge {
		merge[field] = p
	}
	for field, p := range plan.merge {
		merge[field] = p
	}

	c := &compiled{
		plan:   plan,
		merge:  merge,
		caps:   make(map[string]Capability, plan.Len()),
		input:  make(map[string]guard.Pipeline),
		output: make(map[string]guard.Pipeline),
	}

	for _, n := range plan.steps {
		capability, err := e.caps.Lookup(n.Capability)
		if err != nil {
			return nil, &GraphValidationError{
				Invariant: "capability-registered",
				NodeID:    n.ID,
				Message:   "capability not registered: " + n.Capability,
			}
		}
		c.caps[n.ID] = capability

		if c.input[n.ID], err = e.buildPipeline(n.ID, n.InputGuardrails); err != nil {
			return nil, err
		}
		if c.output[n.ID], err = e.buildPipeline(n.ID, n.OutputGuardrails); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (e *Engine) buildPipeline(nodeID string, refs []GuardrailRef) (guard.Pipeline, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	p := make(guard.Pipeline, 0, len(refs))
	for _, ref := range refs {
		g, err := e.guards.Build(ref.Name, ref.Config)
		if err != nil {
			return nil, &GraphValidationError{Invariant: "guardrail-config", NodeID: nodeID, Message: err.Error()}
		}
		p = append(p, g)
	}
	return p, nil
}

// Start compiles g, writes checkpoint 0 holding the initial state and returns
// the new thread's id. The execution is left running with every step pending;
// drive it with Step or RunToCompletion.
//
// A graph that fails validation returns a *GraphValidationError and leaves no
// trace in the store.
func (e *Engine) Start(ctx context.Context, g WorkflowGraph, initial map[string]any) (string, error) {
	c, err := e.prepare(g)
	if err != nil {
		e.logger.Warn("workflow rejected", "graph", g.Name, "error", err)
		return "", err
	}

	state, err := Normalize(initial)
	if err != nil {
		return "", &EngineError{Message: "invalid initial state: " + err.Error(), Code: "INVALID_STATE", Cause: err}
	}

	id := e.newID()
	startedAt := e.now().UTC()
	t := &thread{
		id: id,
		c:  c,
		exec: Execution{
			ID:         id,
			Graph:      c.plan.name,
			Status:     StatusPending,
			NodeStates: make(map[string]map[string]any),
			Params:     make(map[string]map[string]any),
			StartedAt:  startedAt,
		},
		running: true,
	}

	e.mu.Lock()
	if _, exists := e.threads[id]; exists {
		e.mu.Unlock()
		return "", &EngineError{Message: "thread id already in use: " + id, Code: "DUPLICATE_THREAD"}
	}
	e.threads[id] = t
	e.mu.Unlock()

	cp, err := store.NewCheckpoint(id, 0, StartStep, state, startedAt)
	if err == nil {
		_, err = e.store.Append(ctx, cp)
	}
	if err != nil {
		e.mu.Lock()
		delete(e.threads, id)
		e.mu.Unlock()
		return "", &EngineError{Message: "failed to write initial checkpoint: " + err.Error(), Code: "STORE_ERROR", Cause: err}
	}
	e.metrics.IncrementCheckpoints()

	t.mu.Lock()
	t.state = State(cp.State)
	t.exec.Status = StatusRunning
	t.running = false
	t.mu.Unlock()

	e.emit(id, emit.Event{
		Type: emit.ExecutionStarted,
		Payload: map[string]any{
			"graph":  c.plan.name,
			"steps":  c.plan.NodeIDs(),
			"digest": cp.Digest,
		},
	})
	e.logger.Info("execution started", "thread_id", id, "graph", c.plan.name, "steps", c.plan.Len())

	return id, nil
}

// Execute starts g and runs it to completion.
func (e *Engine) Execute(ctx context.Context, g WorkflowGraph, initial map[string]any) (string, Execution, error) {
	id, err := e.Start(ctx, g, initial)
	if err != nil {
		return "", Execution{}, err
	}
	exec, err := e.RunToCompletion(ctx, id)
	return id, exec, err
}

// Step runs the next pending node of the thread and returns the checkpoint it
// produced.
//
// It returns ErrNoPendingSteps when the plan is exhausted and
// ErrExecutionFailed when the thread has failed. A failing step returns a
// *StepError, marks the execution failed and writes no checkpoint. When ctx is
// cancelled mid-step, the step's partial updates are discarded, the execution
// stays running and ctx's error is returned.
func (e *Engine) Step(ctx context.Context, threadID string) (store.Checkpoint, error) {
	t, release, err := e.acquire(threadID, "step")
	if err != nil {
		return store.Checkpoint{}, err
	}
	defer release()

	t.mu.Lock()
	status, cursor := t.exec.Status, t.cursor
	t.mu.Unlock()

	switch {
	case status == StatusFailed:
		return store.Checkpoint{}, ErrExecutionFailed
	case cursor >= t.c.plan.Len():
		return store.Checkpoint{}, ErrNoPendingSteps
	}
	return e.step(ctx, t)
}

// RunToCompletion steps the thread until its plan is exhausted or a step
// fails, and returns the execution record. Calling it on a completed thread
// is a no-op.
func (e *Engine) RunToCompletion(ctx context.Context, threadID string) (Execution, error) {
	t, release, err := e.acquire(threadID, "run_to_completion")
	if err != nil {
		return Execution{}, err
	}
	defer release()

	return e.runToCompletion(ctx, t)
}

func (e *Engine) runToCompletion(ctx context.Context, t *thread) (Execution, error) {
	for {
		t.mu.Lock()
		status, cursor := t.exec.Status, t.cursor
		t.mu.Unlock()

		if status == StatusFailed {
			return t.execution(), ErrExecutionFailed
		}
		if cursor >= t.c.plan.Len() {
			return t.execution(), nil
		}
		if _, err := e.step(ctx, t); err != nil {
			return t.execution(), err
		}
	}
}

// step runs plan position t.cursor. The caller holds the thread's run token.
func (e *Engine) step(ctx context.Context, t *thread) (store.Checkpoint, error) {
	t.mu.Lock()
	idx := t.cursor
	pre := t.state
	params := State(t.exec.Params[t.c.plan.steps[idx].ID]).Clone()
	t.live = pre
	t.mu.Unlock()

	node := t.c.plan.steps[idx]
	seq := idx + 1

	e.metrics.StepStarted()
	began := time.Now()
	e.emit(t.id, emit.Event{
		Type:     emit.NodeStarted,
		NodeID:   node.ID,
		Sequence: idx,
		Payload:  map[string]any{"capability": node.Capability},
	})
	e.logger.Debug("step started", "thread_id", t.id, "node_id", node.ID, "capability", node.Capability, "sequence", seq)

	cp, output, err := e.runStep(ctx, t, node, idx, pre, params)

	if err != nil && ctx.Err() != nil {
		return store.Checkpoint{}, e.cancelled(ctx, t, node, idx, began)
	}
	if err != nil {
		return store.Checkpoint{}, e.failed(t, node, idx, began, err)
	}

	t.mu.Lock()
	t.state = State(cp.State)
	t.cursor = seq
	t.live = nil
	done := seq == t.c.plan.Len()
	if done {
		t.exec.Status = StatusCompleted
		t.exec.CompletedAt = cp.Timestamp
	}
	t.mu.Unlock()

	e.metrics.IncrementCheckpoints()
	e.metrics.StepFinished(node.Capability, string(StatusCompleted), time.Since(began))
	e.emit(t.id, emit.Event{
		Type:     emit.NodeCompleted,
		NodeID:   node.ID,
		Sequence: seq,
		Payload: map[string]any{
			"step_name": cp.StepName,
			"digest":    cp.Digest,
			"output":    output,
		},
	})
	e.logger.Info("step completed", "thread_id", t.id, "node_id", node.ID, "sequence", seq)

	if done {
		e.emit(t.id, emit.Event{
			Type:     emit.ExecutionCompleted,
			Sequence: seq,
			Payload:  map[string]any{"status": string(StatusCompleted), "state": cp.State},
		})
		e.logger.Info("execution completed", "thread_id", t.id, "checkpoints", seq+1)
	}

	return cp, nil
}

// runStep runs the guardrails and the capability for node, the step at plan
// position idx, and appends the resulting checkpoint. It returns the checkpoint and the step's guarded
// output.
func (e *Engine) runStep(ctx context.Context, t *thread, node Node, idx int, pre State, params map[string]any) (store.Checkpoint, map[string]any, error) {
	input, err := nodeInput(pre, node.Config, params)
	if err != nil {
		return store.Checkpoint{}, nil, &EngineError{Message: "failed to build input: " + err.Error(), Code: "INVALID_INPUT", Cause: err}
	}
	if input, err = t.c.input[node.ID].Run(ctx, input); err != nil {
		return store.Checkpoint{}, nil, err
	}

	merge := t.c.merge
	output, err := e.consume(ctx, t, node, idx, pre, input, params)
	if err != nil {
		return store.Checkpoint{}, nil, err
	}
	if err := ctx.Err(); err != nil {
		return store.Checkpoint{}, nil, err
	}

	guarded, err := t.c.output[node.ID].Run(ctx, output)
	if err != nil {
		return store.Checkpoint{}, nil, err
	}

	cp, err := store.NewCheckpoint(t.id, idx+1, node.ID, merge.Merge(pre, guarded), e.now())
	if err != nil {
		return store.Checkpoint{}, nil, &EngineError{Message: "failed to build checkpoint: " + err.Error(), Code: "INVALID_STATE", Cause: err}
	}
	if _, err := e.store.Append(ctx, cp); err != nil {
		return store.Checkpoint{}, nil, &EngineError{Message: "failed to append checkpoint: " + err.Error(), Code: "STORE_ERROR", Cause: err}
	}
	return cp, guarded, nil
}

// consume drains node's update stream, merging each delta into the live state
// as it arrives. A panic in the capability ends the stream as a
// *CapabilityError.
func (e *Engine) consume(ctx context.Context, t *thread, node Node, idx int, pre State, input, params map[string]any) (output State, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("capability panicked", "thread_id", t.id, "node_id", node.ID, "panic", r, "stack", string(debug.Stack()))
			output, err = nil, &CapabilityError{
				Capability: node.Capability,
				NodeID:     node.ID,
				Message:    fmt.Sprintf("capability panicked: %v", r),
				Cause:      ErrCapabilityPanic,
			}
		}
	}()

	merge := t.c.merge
	live := pre
	output = State{}

	for u, streamErr := range t.c.caps[node.ID].Process(ctx, input) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if streamErr != nil {
			return nil, &CapabilityError{
				Capability: node.Capability,
				NodeID:     node.ID,
				Message:    streamErr.Error(),
				Cause:      streamErr,
			}
		}

		delta, err := Normalize(u.Delta)
		if err != nil {
			return nil, &CapabilityError{Capability: node.Capability, NodeID: node.ID, Message: "delta is not serializable", Cause: err}
		}
		payload, err := Normalize(u.payload())
		if err != nil {
			return nil, &CapabilityError{Capability: node.Capability, NodeID: node.ID, Message: "update is not serializable", Cause: err}
		}
		if len(params) > 0 {
			payload["params"] = map[string]any(params)
		}

		live = merge.Merge(live, delta)
		output = merge.Merge(output, delta)

		t.mu.Lock()
		t.live = live
		t.exec.NodeStates[node.ID] = payload.Clone()
		t.mu.Unlock()

		e.emit(t.id, emit.Event{
			Type:     emit.NodeUpdate,
			NodeID:   node.ID,
			Sequence: idx,
			Payload:  payload,
		})

		if u.Status == UpdateError {
			msg := u.Message
			if msg == "" {
				msg = "capability reported an error"
			}
			return nil, &CapabilityError{Capability: node.Capability, NodeID: node.ID, Message: msg}
		}
	}
	return output, nil
}

func (e *Engine) failed(t *thread, node Node, idx int, began time.Time, err error) error {
	kind := ErrorKind(err)

	t.mu.Lock()
	t.live = nil
	t.exec.Status = StatusFailed
	t.exec.Error = err.Error()
	t.exec.ErrorKind = kind
	t.mu.Unlock()

	e.metrics.StepFinished(node.Capability, string(StatusFailed), time.Since(began))
	e.metrics.IncrementFailures(kind)
	e.emit(t.id, emit.Event{
		Type:     emit.ExecutionFailed,
		NodeID:   node.ID,
		Sequence: idx,
		Payload:  map[string]any{"kind": kind, "error": err.Error()},
	})
	e.logger.Error("step failed", "thread_id", t.id, "node_id", node.ID, "kind", kind, "error", err)

	return &StepError{NodeID: node.ID, Err: err}
}

func (e *Engine) cancelled(ctx context.Context, t *thread, node Node, idx int, began time.Time) error {
	t.mu.Lock()
	t.live = nil
	t.mu.Unlock()

	e.metrics.StepFinished(node.Capability, "cancelled", time.Since(began))
	e.emit(t.id, emit.Event{
		Type:     emit.ExecutionCancelled,
		NodeID:   node.ID,
		Sequence: idx,
		Payload:  map[string]any{"reason": ctx.Err().Error()},
	})
	e.logger.Warn("execution cancelled", "thread_id", t.id, "node_id", node.ID, "sequence", idx)

	return ctx.Err()
}

// History returns the thread's checkpoints, oldest first. It reads the store
// directly, so it also serves threads this engine has not loaded.
func (e *Engine) History(ctx context.Context, threadID string) (History, error) {
	cps, err := e.store.List(ctx, threadID)
	if err != nil {
		return nil, &EngineError{Message: "failed to list checkpoints: " + err.Error(), Code: "STORE_ERROR", Cause: err}
	}
	if len(cps) == 0 {
		return nil, &NotFoundError{Kind: "thread", Key: threadID}
	}
	return History(cps), nil
}

// State returns the thread's state at its pointer together with the node ids
// still to run.
func (e *Engine) State(ctx context.Context, threadID string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	t, err := e.thread(threadID)
	if err != nil {
		return Snapshot{}, err
	}
	return t.snapshot(), nil
}

// Rewind moves the thread's pointer to checkpoint sequence. Any checkpoint
// still in the store may be targeted; later checkpoints remain readable until
// the next step supersedes them. A recorded failure is cleared, so the thread
// can run again.
func (e *Engine) Rewind(ctx context.Context, threadID string, sequence int) (store.Checkpoint, error) {
	t, release, err := e.acquire(threadID, "rewind")
	if err != nil {
		return store.Checkpoint{}, err
	}
	defer release()

	return e.rewind(ctx, t, sequence)
}

func (e *Engine) rewind(ctx context.Context, t *thread, sequence int) (store.Checkpoint, error) {
	missing := &NotFoundError{Kind: "checkpoint", Key: fmt.Sprintf("%s/%d", t.id, sequence)}
	if sequence < 0 || sequence > t.c.plan.Len() {
		return store.Checkpoint{}, missing
	}

	cp, err := e.store.Read(ctx, t.id, sequence)
	if errors.Is(err, store.ErrNotFound) {
		return store.Checkpoint{}, missing
	}
	if err != nil {
		return store.Checkpoint{}, &EngineError{Message: "failed to read checkpoint: " + err.Error(), Code: "STORE_ERROR", Cause: err}
	}
	if want := t.c.plan.stepName(sequence); cp.StepName != want {
		return store.Checkpoint{}, &EngineError{
			Message: fmt.Sprintf("checkpoint %d was written by %q, plan expects %q", sequence, cp.StepName, want),
			Code:    "CHECKPOINT_MISMATCH",
		}
	}

	t.mu.Lock()
	from := t.cursor
	t.state = State(cp.State)
	t.cursor = sequence
	t.live = nil
	t.exec.Error = ""
	t.exec.ErrorKind = ""
	if sequence == t.c.plan.Len() {
		t.exec.Status = StatusCompleted
		if t.exec.CompletedAt.IsZero() {
			t.exec.CompletedAt = cp.Timestamp
		}
	} else {
		t.exec.Status = StatusRunning
		t.exec.CompletedAt = time.Time{}
	}
	t.mu.Unlock()

	e.metrics.IncrementRewinds()
	e.emit(t.id, emit.Event{
		Type:     emit.Rewound,
		Sequence: sequence,
		Payload:  map[string]any{"from": from, "step_name": cp.StepName},
	})
	e.logger.Info("thread rewound", "thread_id", t.id, "from", from, "to", sequence)

	return cp, nil
}

// UpdateAndResume overrides nodeID's parameters and re-runs the plan from
// that node.
//
// params are merged into the node's override parameters and its NodeStates
// entry; they never touch the persisted state directly. The thread is rewound
// to the checkpoint preceding the node (or stays where it is if the node has
// not run yet) and then run to completion, re-checkpointing every step from
// the node onward.
func (e *Engine) UpdateAndResume(ctx context.Context, threadID, nodeID string, params map[string]any) (Execution, error) {
	t, release, err := e.acquire(threadID, "update_and_resume")
	if err != nil {
		return Execution{}, err
	}
	defer release()

	idx, ok := t.c.plan.IndexOf(nodeID)
	if !ok {
		return Execution{}, &NotFoundError{Kind: "node", Key: nodeID}
	}
	update, err := Normalize(params)
	if err != nil {
		return Execution{}, &EngineError{Message: "invalid params: " + err.Error(), Code: "INVALID_PARAMS", Cause: err}
	}

	t.mu.Lock()
	merged := State(t.exec.Params[nodeID]).Clone()
	entry := State(t.exec.NodeStates[nodeID]).Clone()
	for k, v := range update {
		merged[k] = v
		entry[k] = v
	}
	t.exec.Params[nodeID] = merged
	t.exec.NodeStates[nodeID] = entry
	target := min(idx, t.cursor)
	t.mu.Unlock()

	e.logger.Info("resuming with new params", "thread_id", threadID, "node_id", nodeID, "from", target)

	if _, err := e.rewind(ctx, t, target); err != nil {
		return t.execution(), err
	}
	return e.runToCompletion(ctx, t)
}

// Attach loads a thread written by another engine (or an earlier process)
// from the store, so it can be inspected, rewound and resumed. g must be the
// graph the thread was started with. Attaching a thread that is already
// loaded returns its current snapshot.
//
// Checkpoints hold state only. Overrides set by UpdateAndResume live in the
// Execution record of the engine that applied them, so an attached thread
// starts with empty Params and NodeStates: steps re-run after attaching see
// the graph's node config, not earlier overrides. Reapply them with
// UpdateAndResume.
func (e *Engine) Attach(ctx context.Context, g WorkflowGraph, threadID string) (Snapshot, error) {
	if t, err := e.thread(threadID); err == nil {
		return t.snapshot(), nil
	}

	c, err := e.prepare(g)
	if err != nil {
		return Snapshot{}, err
	}

	cps, err := e.store.List(ctx, threadID)
	if err != nil {
		return Snapshot{}, &EngineError{Message: "failed to list checkpoints: " + err.Error(), Code: "STORE_ERROR", Cause: err}
	}
	if len(cps) == 0 {
		return Snapshot{}, &NotFoundError{Kind: "thread", Key: threadID}
	}
	if len(cps) > c.plan.Len()+1 {
		return Snapshot{}, &EngineError{
			Message: fmt.Sprintf("thread %s has %d checkpoints, plan has %d steps", threadID, len(cps), c.plan.Len()),
			Code:    "CHECKPOINT_MISMATCH",
		}
	}
	for i, cp := range cps {
		if want := c.plan.stepName(i); cp.StepName != want {
			return Snapshot{}, &EngineError{
				Message: fmt.Sprintf("checkpoint %d was written by %q, plan expects %q", i, cp.StepName, want),
				Code:    "CHECKPOINT_MISMATCH",
			}
		}
	}

	last := cps[len(cps)-1]
	t := &thread{
		id: threadID,
		c:  c,
		exec: Execution{
			ID:         threadID,
			Graph:      c.plan.name,
			Status:     StatusRunning,
			NodeStates: make(map[string]map[string]any),
			Params:     make(map[string]map[string]any),
			StartedAt:  cps[0].Timestamp,
		},
		state:  State(last.State),
		cursor: last.Sequence,
	}
	if t.cursor == c.plan.Len() {
		t.exec.Status = StatusCompleted
		t.exec.CompletedAt = last.Timestamp
	}

	e.mu.Lock()
	if existing, ok := e.threads[threadID]; ok {
		t = existing
	} else {
		e.threads[threadID] = t
	}
	e.mu.Unlock()

	e.logger.Info("thread attached", "thread_id", threadID, "sequence", t.cursor)
	return t.snapshot(), nil
}

// Plan returns the compiled plan a thread runs.
func (e *Engine) Plan(threadID string) (*Plan, error) {
	t, err := e.thread(threadID)
	if err != nil {
		return nil, err
	}
	return t.c.plan, nil
}

// Threads lists the ids of loaded threads, sorted.
func (e *Engine) Threads() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]string, 0, len(e.threads))
	for id := range e.threads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *Engine) thread(threadID string) (*thread, error) {
	e.mu.RLock()
	t, ok := e.threads[threadID]
	e.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{Kind: "thread", Key: threadID}
	}
	return t, nil
}

// acquire takes the thread's run token. The returned func releases it.
func (e *Engine) acquire(threadID, operation string) (*thread, func(), error) {
	t, err := e.thread(threadID)
	if err != nil {
		return nil, nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return nil, nil, &ConcurrentExecutionError{ThreadID: threadID, Operation: operation}
	}
	t.running = true

	return t, func() {
		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
	}, nil
}

func (e *Engine) emit(threadID string, event emit.Event) {
	event.ThreadID = threadID
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now().UTC()
	}
	e.sink.Emit(threadID, event)
}

func (t *thread) execution() Execution {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exec.clone()
}

func (t *thread) snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	pending := []string{}
	if t.exec.Status != StatusCompleted {
		pending = t.c.plan.NodeIDs()[t.cursor:]
	}

	snap := Snapshot{
		ThreadID:  t.id,
		Sequence:  t.cursor,
		State:     t.state.Clone(),
		Pending:   pending,
		Execution: t.exec.clone(),
	}
	if t.live != nil {
		snap.Live = t.live.Clone()
	}
	return snap
}
