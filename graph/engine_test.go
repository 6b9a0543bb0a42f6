package graph

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/dshills/rewindgraph/graph/emit"
	"github.com/dshills/rewindgraph/graph/guard"
	"github.com/dshills/rewindgraph/graph/store"
)

func TestNew_Validation(t *testing.T) {
	t.Run("nil registry", func(t *testing.T) {
		_, err := New(nil, store.NewMemStore())
		var engErr *EngineError
		if !errors.As(err, &engErr) || engErr.Code != "MISSING_REGISTRY" {
			t.Fatalf("expected MISSING_REGISTRY, got %v", err)
		}
	})

	t.Run("nil store", func(t *testing.T) {
		_, err := New(NewRegistry(), nil)
		var engErr *EngineError
		if !errors.As(err, &engErr) || engErr.Code != "MISSING_STORE" {
			t.Fatalf("expected MISSING_STORE, got %v", err)
		}
	})

	t.Run("invalid option", func(t *testing.T) {
		_, err := New(NewRegistry(), store.NewMemStore(), WithSink(nil))
		var engErr *EngineError
		if !errors.As(err, &engErr) || engErr.Code != "INVALID_OPTION" {
			t.Fatalf("expected INVALID_OPTION, got %v", err)
		}
	})

	t.Run("invalid merge table", func(t *testing.T) {
		_, err := New(NewRegistry(), store.NewMemStore(), WithMergeTable(MergeTable{"x": "sum"}))
		if err == nil {
			t.Fatal("expected error for unknown merge policy")
		}
	})
}

func TestEngine_ResearchScenario(t *testing.T) {
	ctx := context.Background()
	research := newFakeResearch(longSummary)
	engine, _, sink := newTestEngine(t, research.registry(t))

	id, exec, err := engine.Execute(ctx, researchGraph(), map[string]any{"question": "How do async runtimes work?"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if exec.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", exec.Status)
	}
	if exec.CompletedAt.IsZero() {
		t.Error("CompletedAt not set")
	}

	history, err := engine.History(ctx, id)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	want := []string{StartStep, "planner", "literature_search", "code_search", "summarizer"}
	if got := stepNames(history); !equalStrings(got, want) {
		t.Fatalf("step names = %v, want %v", got, want)
	}
	for i, cp := range history {
		if cp.Sequence != i {
			t.Errorf("checkpoint %d has sequence %d", i, cp.Sequence)
		}
		if i > 0 && !cp.Timestamp.After(history[i-1].Timestamp) {
			t.Errorf("checkpoint %d timestamp does not increase", i)
		}
	}

	if q := history[0].State["question"]; q != "How do async runtimes work?" {
		t.Errorf("checkpoint 0 question = %v", q)
	}
	if _, ok := history[0].State["plan"]; ok {
		t.Error("checkpoint 0 should hold only the initial state")
	}

	final := history[4].State
	wantMessages := []any{"plan created", "found 2 papers", "found 1 repository", "summary ready"}
	if !reflect.DeepEqual(final["messages"], wantMessages) {
		t.Errorf("messages = %v, want %v", final["messages"], wantMessages)
	}
	if final["current_step"] != "summarizer" {
		t.Errorf("current_step = %v", final["current_step"])
	}
	if final["word_count"] != float64(16) {
		t.Errorf("word_count = %v (%T), want 16", final["word_count"], final["word_count"])
	}

	snap, err := engine.State(ctx, id)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if snap.Sequence != 4 || len(snap.Pending) != 0 {
		t.Errorf("snapshot sequence=%d pending=%v", snap.Sequence, snap.Pending)
	}
	if snap.Execution.NodeStates["literature_search"]["status"] != UpdateCompleted {
		t.Errorf("literature_search node state = %v", snap.Execution.NodeStates["literature_search"])
	}

	types := sink.Types(id)
	if types[0] != emit.ExecutionStarted {
		t.Errorf("first event = %s", types[0])
	}
	if types[len(types)-1] != emit.ExecutionCompleted {
		t.Errorf("last event = %s", types[len(types)-1])
	}
	papers := sink.HistoryWithFilter(id, emit.HistoryFilter{NodeID: "literature_search", Type: emit.NodeUpdate})
	found := 0
	for _, ev := range papers {
		if ev.Payload["status"] == "found_paper" {
			found++
		}
	}
	if found != 2 {
		t.Errorf("found_paper updates = %d, want 2", found)
	}
	completed := sink.HistoryWithFilter(id, emit.HistoryFilter{Type: emit.NodeCompleted})
	if len(completed) != 4 {
		t.Errorf("node_completed events = %d, want 4", len(completed))
	}
	for i, ev := range completed {
		if ev.Payload["digest"] != history[i+1].Digest {
			t.Errorf("node_completed %d digest mismatch", i)
		}
	}
}

func TestEngine_StepByStep(t *testing.T) {
	ctx := context.Background()
	research := newFakeResearch(longSummary)
	engine, _, _ := newTestEngine(t, research.registry(t))

	id, err := engine.Start(ctx, researchGraph(), map[string]any{"question": "q"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	snap, _ := engine.State(ctx, id)
	if snap.Execution.Status != StatusRunning || snap.Sequence != 0 {
		t.Fatalf("after start: status=%s sequence=%d", snap.Execution.Status, snap.Sequence)
	}
	if !equalStrings(snap.Pending, []string{"planner", "literature_search", "code_search", "summarizer"}) {
		t.Errorf("pending = %v", snap.Pending)
	}

	for seq := 1; seq <= 4; seq++ {
		cp, err := engine.Step(ctx, id)
		if err != nil {
			t.Fatalf("Step %d: %v", seq, err)
		}
		if cp.Sequence != seq {
			t.Errorf("step %d wrote sequence %d", seq, cp.Sequence)
		}
	}

	if _, err := engine.Step(ctx, id); !errors.Is(err, ErrNoPendingSteps) {
		t.Errorf("expected ErrNoPendingSteps, got %v", err)
	}

	exec, err := engine.RunToCompletion(ctx, id)
	if err != nil || exec.Status != StatusCompleted {
		t.Errorf("RunToCompletion on completed thread: status=%s err=%v", exec.Status, err)
	}
}

func TestEngine_StartRejectsInvalidGraph(t *testing.T) {
	ctx := context.Background()
	research := newFakeResearch(longSummary)
	engine, st, _ := newTestEngine(t, research.registry(t))

	tests := []struct {
		name      string
		mutate    func(*WorkflowGraph)
		invariant string
	}{
		{
			name:      "unregistered capability",
			mutate:    func(g *WorkflowGraph) { g.Nodes[1].Capability = "web_crawler" },
			invariant: "capability-registered",
		},
		{
			name: "unknown guardrail",
			mutate: func(g *WorkflowGraph) {
				g.Nodes[3].OutputGuardrails = []GuardrailRef{{Name: "sentiment"}}
			},
			invariant: "guardrail-config",
		},
		{
			name: "bad guardrail config",
			mutate: func(g *WorkflowGraph) {
				g.Nodes[3].OutputGuardrails = []GuardrailRef{{Name: guard.QualityCheckName, Config: map[string]any{"min_length": "long"}}}
			},
			invariant: "guardrail-config",
		},
		{
			name: "cycle",
			mutate: func(g *WorkflowGraph) {
				g.Edges = append(g.Edges, Edge{Source: "code_search", Target: "literature_search"})
			},
			invariant: "acyclic",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := researchGraph()
			tt.mutate(&g)

			_, err := engine.Start(ctx, g, nil)
			var gve *GraphValidationError
			if !errors.As(err, &gve) {
				t.Fatalf("expected GraphValidationError, got %v", err)
			}
			if gve.Invariant != tt.invariant {
				t.Errorf("invariant = %s, want %s", gve.Invariant, tt.invariant)
			}
		})
	}

	if threads := st.Threads(); len(threads) != 0 {
		t.Errorf("rejected graphs left checkpoints for %v", threads)
	}
	if research.runsOf("planner") != 0 {
		t.Error("no capability should run for a rejected graph")
	}
}

func TestEngine_InputGuardrailFailure(t *testing.T) {
	ctx := context.Background()
	research := newFakeResearch("Too short.")
	reg := research.registry(t)
	reported := 0
	if err := reg.Register("reporter", CapabilityFunc(func(ctx context.Context, in map[string]any) Stream {
		reported++
		return Updates(Update{Status: UpdateCompleted, Delta: map[string]any{"report": "done"}})
	})); err != nil {
		t.Fatalf("Register: %v", err)
	}
	engine, _, sink := newTestEngine(t, reg)

	g := researchGraph()
	g.Nodes = append(g.Nodes, Node{
		ID:         "report",
		Capability: "reporter",
		InputGuardrails: []GuardrailRef{{
			Name:   guard.QualityCheckName,
			Config: map[string]any{"field": "summary", "min_length": 50},
		}},
	})
	g.Edges[3] = Edge{Source: "summarizer", Target: "report"}
	g.Edges = append(g.Edges, Edge{Source: "report", Target: Terminal})

	id, exec, err := engine.Execute(ctx, g, map[string]any{"question": "q"})

	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.NodeID != "report" {
		t.Fatalf("expected StepError for report, got %v", err)
	}
	var ve *guard.ValidationError
	if !errors.As(err, &ve) || ve.Field != "summary" {
		t.Fatalf("expected guard.ValidationError on summary, got %v", err)
	}
	if reported != 0 {
		t.Errorf("capability ran %d times behind a rejecting input guardrail", reported)
	}
	if exec.Status != StatusFailed || exec.ErrorKind != KindValidation {
		t.Errorf("status=%s kind=%s", exec.Status, exec.ErrorKind)
	}

	history, err := engine.History(ctx, id)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 5 {
		t.Fatalf("history length = %d, want 5", len(history))
	}
	latest, _ := history.Latest()
	if latest.Sequence != 4 || latest.StepName != "summarizer" {
		t.Errorf("latest = #%d %s, want #4 summarizer", latest.Sequence, latest.StepName)
	}
	if _, err := engine.store.Read(ctx, id, 5); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("checkpoint #5 should not exist: %v", err)
	}

	events := sink.History(id)
	last := events[len(events)-1]
	if last.Type != emit.ExecutionFailed || last.NodeID != "report" {
		t.Fatalf("last event = %s on %q, want execution_failed on report", last.Type, last.NodeID)
	}
	if last.Payload["kind"] != KindValidation {
		t.Errorf("failure kind = %v", last.Payload["kind"])
	}
	for _, ev := range events {
		if ev.NodeID == "report" && ev.Type == emit.NodeUpdate {
			t.Errorf("unexpected update from rejected node: %+v", ev)
		}
	}
}

func TestEngine_CapabilityPanic(t *testing.T) {
	tests := []struct {
		name string
		cap  CapabilityFunc
	}{
		{"stream panics", func(ctx context.Context, in map[string]any) Stream {
			return func(yield func(Update, error) bool) {
				if !yield(Update{Status: "working"}, nil) {
					return
				}
				panic("malformed output")
			}
		}},
		{"process panics", func(ctx context.Context, in map[string]any) Stream {
			panic("malformed output")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			reg := NewRegistry()
			_ = reg.Register("boom", tt.cap)
			engine, _, sink := newTestEngine(t, reg)

			id, exec, err := engine.Execute(ctx, singleNodeGraph("boom"), nil)

			var stepErr *StepError
			if !errors.As(err, &stepErr) || stepErr.NodeID != "work" {
				t.Fatalf("expected StepError for work, got %v", err)
			}
			var ce *CapabilityError
			if !errors.As(err, &ce) || !errors.Is(err, ErrCapabilityPanic) {
				t.Fatalf("expected CapabilityError wrapping ErrCapabilityPanic, got %v", err)
			}
			if exec.Status != StatusFailed || exec.ErrorKind != KindCapability {
				t.Errorf("status=%s kind=%s", exec.Status, exec.ErrorKind)
			}

			history, _ := engine.History(ctx, id)
			if len(history) != 1 {
				t.Errorf("history length = %d, want 1", len(history))
			}
			events := sink.History(id)
			if last := events[len(events)-1]; last.Type != emit.ExecutionFailed {
				t.Errorf("last event = %s, want execution_failed", last.Type)
			}

			// The run token is released, so the thread can be rewound.
			if _, err := engine.Rewind(ctx, id, 0); err != nil {
				t.Errorf("Rewind after panic: %v", err)
			}
		})
	}
}

func TestEngine_GuardrailFailure(t *testing.T) {
	ctx := context.Background()
	research := newFakeResearch("Too short.")
	engine, _, sink := newTestEngine(t, research.registry(t))

	g := researchGraph()
	g.Nodes[3].OutputGuardrails = []GuardrailRef{{
		Name:   guard.QualityCheckName,
		Config: map[string]any{"field": "summary", "min_length": 50},
	}}

	id, exec, err := engine.Execute(ctx, g, map[string]any{"question": "q"})

	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.NodeID != "summarizer" {
		t.Fatalf("expected StepError for summarizer, got %v", err)
	}
	var ve *guard.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected guard.ValidationError, got %v", err)
	}
	if ve.Reason != "Content too short. Minimum length: 50" {
		t.Errorf("reason = %q", ve.Reason)
	}
	if exec.Status != StatusFailed || exec.ErrorKind != KindValidation {
		t.Errorf("status=%s kind=%s", exec.Status, exec.ErrorKind)
	}

	history, err := engine.History(ctx, id)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("history length = %d, want 4", len(history))
	}
	latest, _ := history.Latest()
	if latest.Sequence != 3 || latest.StepName != "code_search" {
		t.Errorf("latest = #%d %s, want #3 code_search", latest.Sequence, latest.StepName)
	}

	events := sink.History(id)
	last := events[len(events)-1]
	if last.Type != emit.ExecutionFailed {
		t.Fatalf("last event = %s, want execution_failed", last.Type)
	}
	if last.Payload["kind"] != KindValidation {
		t.Errorf("failure kind = %v", last.Payload["kind"])
	}

	if _, err := engine.Step(ctx, id); !errors.Is(err, ErrExecutionFailed) {
		t.Errorf("Step on failed thread: %v", err)
	}

	// Rewinding clears the failure.
	if _, err := engine.Rewind(ctx, id, 3); err != nil {
		t.Fatalf("Rewind: %v", err)
	}
	snap, _ := engine.State(ctx, id)
	if snap.Execution.Status != StatusRunning || snap.Execution.Error != "" {
		t.Errorf("after rewind: status=%s error=%q", snap.Execution.Status, snap.Execution.Error)
	}
}

func TestEngine_CapabilityFailure(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		stream Stream
	}{
		{"error update", Updates(Update{Status: "working"}, Update{Status: UpdateError, Message: "backend unavailable"})},
		{"stream error", Failed(errors.New("connection reset"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			_ = reg.Register("flaky", CapabilityFunc(func(ctx context.Context, in map[string]any) Stream {
				return tt.stream
			}))
			engine, _, _ := newTestEngine(t, reg)

			g := WorkflowGraph{
				Nodes: []Node{{ID: "only", Capability: "flaky"}},
				Edges: []Edge{{Source: "only", Target: Terminal}},
			}
			id, exec, err := engine.Execute(ctx, g, nil)

			var ce *CapabilityError
			if !errors.As(err, &ce) {
				t.Fatalf("expected CapabilityError, got %v", err)
			}
			if ce.NodeID != "only" || ce.Capability != "flaky" {
				t.Errorf("error names node=%s capability=%s", ce.NodeID, ce.Capability)
			}
			if exec.ErrorKind != KindCapability {
				t.Errorf("error kind = %s", exec.ErrorKind)
			}

			history, _ := engine.History(ctx, id)
			if len(history) != 1 {
				t.Errorf("history length = %d, want 1", len(history))
			}
		})
	}
}

func TestEngine_UpdateAndResume(t *testing.T) {
	ctx := context.Background()
	research := newFakeResearch(longSummary)
	engine, _, _ := newTestEngine(t, research.registry(t))

	id, _, err := engine.Execute(ctx, researchGraph(), map[string]any{"question": "q"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	before, _ := engine.History(ctx, id)

	exec, err := engine.UpdateAndResume(ctx, id, "code_search", map[string]any{"language": "rust"})
	if err != nil {
		t.Fatalf("UpdateAndResume: %v", err)
	}
	if exec.Status != StatusCompleted {
		t.Errorf("status = %s", exec.Status)
	}
	if exec.Params["code_search"]["language"] != "rust" {
		t.Errorf("params = %v", exec.Params)
	}

	for name, want := range map[string]int{"planner": 1, "literature_search": 1, "code_search": 2, "summarizer": 2} {
		if got := research.runsOf(name); got != want {
			t.Errorf("%s ran %d times, want %d", name, got, want)
		}
	}

	after, _ := engine.History(ctx, id)
	if len(after) != 5 {
		t.Fatalf("history length = %d, want 5", len(after))
	}
	for i := 0; i <= 2; i++ {
		if after[i].Digest != before[i].Digest {
			t.Errorf("checkpoint %d changed", i)
		}
	}
	for i := 3; i <= 4; i++ {
		if after[i].Digest == before[i].Digest {
			t.Errorf("checkpoint %d was not rewritten", i)
		}
	}

	final := after[4].State
	if final["code_language"] != "rust" {
		t.Errorf("code_language = %v", final["code_language"])
	}
	results := final["code_results"].([]any)
	if repo := results[0].(map[string]any)["repository"]; repo != "example/rust-research" {
		t.Errorf("repository = %v", repo)
	}
	// The superseded code_search message is gone; the new one replaced it.
	wantMessages := []any{"plan created", "found 2 papers", "found 1 repository", "summary ready"}
	if !reflect.DeepEqual(final["messages"], wantMessages) {
		t.Errorf("messages = %v", final["messages"])
	}

	t.Run("unknown node", func(t *testing.T) {
		_, err := engine.UpdateAndResume(ctx, id, "reviewer", map[string]any{"x": 1})
		var nfe *NotFoundError
		if !errors.As(err, &nfe) || nfe.Kind != "node" {
			t.Fatalf("expected node NotFoundError, got %v", err)
		}
		if !errors.Is(err, store.ErrNotFound) {
			t.Error("NotFoundError should match store.ErrNotFound")
		}
	})
}

func TestEngine_UpdateAndResumeBeforeNodeRan(t *testing.T) {
	ctx := context.Background()
	research := newFakeResearch(longSummary)
	engine, _, _ := newTestEngine(t, research.registry(t))

	id, err := engine.Start(ctx, researchGraph(), map[string]any{"question": "q"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := engine.Step(ctx, id); err != nil {
		t.Fatalf("Step: %v", err)
	}

	if _, err := engine.UpdateAndResume(ctx, id, "code_search", map[string]any{"language": "go"}); err != nil {
		t.Fatalf("UpdateAndResume: %v", err)
	}
	if research.runsOf("planner") != 1 || research.runsOf("literature_search") != 1 {
		t.Errorf("earlier steps re-ran: planner=%d literature=%d", research.runsOf("planner"), research.runsOf("literature_search"))
	}

	snap, _ := engine.State(ctx, id)
	if snap.State["code_language"] != "go" {
		t.Errorf("code_language = %v", snap.State["code_language"])
	}
}

func TestEngine_Rewind(t *testing.T) {
	ctx := context.Background()
	research := newFakeResearch(longSummary)
	engine, _, sink := newTestEngine(t, research.registry(t))

	id, _, err := engine.Execute(ctx, researchGraph(), map[string]any{"question": "q"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	original, _ := engine.History(ctx, id)

	cp, err := engine.Rewind(ctx, id, 2)
	if err != nil {
		t.Fatalf("Rewind: %v", err)
	}
	if cp.StepName != "literature_search" {
		t.Errorf("rewound to %s", cp.StepName)
	}

	snap, _ := engine.State(ctx, id)
	if snap.Sequence != 2 || snap.Execution.Status != StatusRunning {
		t.Errorf("after rewind: sequence=%d status=%s", snap.Sequence, snap.Execution.Status)
	}
	if !equalStrings(snap.Pending, []string{"code_search", "summarizer"}) {
		t.Errorf("pending = %v", snap.Pending)
	}
	if _, ok := snap.State["summary"]; ok {
		t.Error("state at checkpoint 2 should not hold a summary")
	}

	// Later checkpoints stay readable until superseded.
	if h, _ := engine.History(ctx, id); len(h) != 5 {
		t.Errorf("history length after rewind = %d, want 5", len(h))
	}

	rewound := sink.HistoryWithFilter(id, emit.HistoryFilter{Type: emit.Rewound})
	if len(rewound) != 1 || rewound[0].Sequence != 2 || rewound[0].Payload["from"] != 4 {
		t.Errorf("rewound events = %+v", rewound)
	}

	// Re-running reproduces the original checkpoints.
	if _, err := engine.RunToCompletion(ctx, id); err != nil {
		t.Fatalf("RunToCompletion: %v", err)
	}
	replayed, _ := engine.History(ctx, id)
	for i := range original {
		if replayed[i].Digest != original[i].Digest {
			t.Errorf("checkpoint %d digest differs after rewind and re-run", i)
		}
	}

	t.Run("to the end keeps it completed", func(t *testing.T) {
		if _, err := engine.Rewind(ctx, id, 4); err != nil {
			t.Fatalf("Rewind: %v", err)
		}
		snap, _ := engine.State(ctx, id)
		if snap.Execution.Status != StatusCompleted {
			t.Errorf("status = %s", snap.Execution.Status)
		}
	})

	t.Run("out of range", func(t *testing.T) {
		for _, seq := range []int{-1, 5, 99} {
			_, err := engine.Rewind(ctx, id, seq)
			var nfe *NotFoundError
			if !errors.As(err, &nfe) || nfe.Kind != "checkpoint" {
				t.Errorf("Rewind(%d): expected checkpoint NotFoundError, got %v", seq, err)
			}
		}
	})

	t.Run("unknown thread", func(t *testing.T) {
		_, err := engine.Rewind(ctx, "missing", 0)
		if ErrorKind(err) != KindNotFound {
			t.Errorf("kind = %s", ErrorKind(err))
		}
	})
}

func TestEngine_RewindThenStepSupersedesFuture(t *testing.T) {
	ctx := context.Background()
	research := newFakeResearch(longSummary)
	engine, _, _ := newTestEngine(t, research.registry(t))

	id, _, err := engine.Execute(ctx, researchGraph(), map[string]any{"question": "q"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, err := engine.Rewind(ctx, id, 1); err != nil {
		t.Fatalf("Rewind: %v", err)
	}
	if _, err := engine.Step(ctx, id); err != nil {
		t.Fatalf("Step: %v", err)
	}

	history, _ := engine.History(ctx, id)
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3 (later checkpoints superseded)", len(history))
	}
	if history[2].StepName != "literature_search" {
		t.Errorf("checkpoint 2 = %s", history[2].StepName)
	}
}

func TestEngine_Determinism(t *testing.T) {
	ctx := context.Background()

	run := func() History {
		research := newFakeResearch(longSummary)
		engine, _, _ := newTestEngine(t, research.registry(t))
		id, _, err := engine.Execute(ctx, researchGraph(), map[string]any{"question": "q", "depth": 2})
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		h, _ := engine.History(ctx, id)
		return h
	}

	first, second := run(), run()
	if len(first) != len(second) {
		t.Fatalf("history lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Digest != second[i].Digest {
			t.Errorf("checkpoint %d digest differs", i)
		}
		if !reflect.DeepEqual(first[i].State, second[i].State) {
			t.Errorf("checkpoint %d state differs", i)
		}
	}
}

func TestEngine_NodeConfigAndLiveState(t *testing.T) {
	ctx := context.Background()

	var seen map[string]any
	release := make(chan struct{})
	observed := make(chan struct{})

	reg := NewRegistry()
	_ = reg.Register("collect", CapabilityFunc(func(ctx context.Context, in map[string]any) Stream {
		seen = in
		return func(yield func(Update, error) bool) {
			if !yield(Update{Status: "progress", Delta: map[string]any{"partial": true}}, nil) {
				return
			}
			close(observed)
			<-release
			yield(Update{Status: UpdateCompleted, Delta: map[string]any{"done": true}}, nil)
		}
	}))
	engine, _, _ := newTestEngine(t, reg)

	g := WorkflowGraph{
		Nodes: []Node{{ID: "collect", Capability: "collect", Config: map[string]any{"limit": 3}}},
		Edges: []Edge{{Source: "collect", Target: Terminal}},
	}
	id, err := engine.Start(ctx, g, map[string]any{"question": "q"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := engine.RunToCompletion(ctx, id)
		done <- err
	}()

	<-observed
	snap, _ := engine.State(ctx, id)
	if snap.Live["partial"] != true {
		t.Errorf("live state = %v", snap.Live)
	}
	if _, ok := snap.State["partial"]; ok {
		t.Error("committed state should not hold uncommitted deltas")
	}
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("RunToCompletion: %v", err)
	}
	if seen["limit"] != float64(3) || seen["question"] != "q" {
		t.Errorf("capability input = %v", seen)
	}
	snap, _ = engine.State(ctx, id)
	if snap.Live != nil {
		t.Errorf("live state after completion = %v", snap.Live)
	}
	if snap.State["partial"] != true || snap.State["done"] != true {
		t.Errorf("final state = %v", snap.State)
	}
}

func TestEngine_Attach(t *testing.T) {
	ctx := context.Background()
	research := newFakeResearch(longSummary)
	reg := research.registry(t)
	first, st, _ := newTestEngine(t, reg)

	id, err := first.Start(ctx, researchGraph(), map[string]any{"question": "q"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	for range 2 {
		if _, err := first.Step(ctx, id); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}

	second, err := New(reg, st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := second.State(ctx, id); ErrorKind(err) != KindNotFound {
		t.Fatalf("unattached thread should be unknown, got %v", err)
	}

	snap, err := second.Attach(ctx, researchGraph(), id)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if snap.Sequence != 2 || !equalStrings(snap.Pending, []string{"code_search", "summarizer"}) {
		t.Errorf("attached at %d pending %v", snap.Sequence, snap.Pending)
	}

	exec, err := second.RunToCompletion(ctx, id)
	if err != nil || exec.Status != StatusCompleted {
		t.Fatalf("RunToCompletion: status=%s err=%v", exec.Status, err)
	}
	if research.runsOf("planner") != 1 {
		t.Errorf("planner ran %d times", research.runsOf("planner"))
	}

	t.Run("mismatched graph", func(t *testing.T) {
		other, _ := New(reg, st)
		g := researchGraph()
		g.Nodes[0], g.Nodes[1] = g.Nodes[1], g.Nodes[0]
		g.Edges[0] = Edge{Source: "literature_search", Target: "planner"}
		g.Edges[1] = Edge{Source: "planner", Target: "code_search"}

		_, err := other.Attach(ctx, g, id)
		var engErr *EngineError
		if !errors.As(err, &engErr) || engErr.Code != "CHECKPOINT_MISMATCH" {
			t.Fatalf("expected CHECKPOINT_MISMATCH, got %v", err)
		}
	})

	t.Run("unknown thread", func(t *testing.T) {
		other, _ := New(reg, st)
		if _, err := other.Attach(ctx, researchGraph(), "nope"); ErrorKind(err) != KindNotFound {
			t.Errorf("expected NotFound, got %v", err)
		}
	})
}

func TestEngine_AttachDropsOverrides(t *testing.T) {
	ctx := context.Background()
	research := newFakeResearch(longSummary)
	reg := research.registry(t)
	first, st, _ := newTestEngine(t, reg)

	id, _, err := first.Execute(ctx, researchGraph(), map[string]any{"question": "q"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, err := first.UpdateAndResume(ctx, id, "code_search", map[string]any{"language": "rust"}); err != nil {
		t.Fatalf("UpdateAndResume: %v", err)
	}

	second, err := New(reg, st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	snap, err := second.Attach(ctx, researchGraph(), id)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if snap.State["code_language"] != "rust" {
		t.Errorf("persisted code_language = %v", snap.State["code_language"])
	}

	if _, err := second.Rewind(ctx, id, 2); err != nil {
		t.Fatalf("Rewind: %v", err)
	}
	exec, err := second.RunToCompletion(ctx, id)
	if err != nil {
		t.Fatalf("RunToCompletion: %v", err)
	}
	if len(exec.Params) != 0 {
		t.Errorf("attached thread carried overrides: %v", exec.Params)
	}
	if _, ok := exec.NodeStates["code_search"]["params"]; ok {
		t.Errorf("code_search node state = %v", exec.NodeStates["code_search"])
	}
	snap, _ = second.State(ctx, id)
	if snap.State["code_language"] != "python" {
		t.Errorf("re-run after attach should use node config, code_language = %v", snap.State["code_language"])
	}

	exec, err = second.UpdateAndResume(ctx, id, "code_search", map[string]any{"language": "rust"})
	if err != nil {
		t.Fatalf("UpdateAndResume after attach: %v", err)
	}
	if exec.Params["code_search"]["language"] != "rust" {
		t.Errorf("params = %v", exec.Params)
	}
	snap, _ = second.State(ctx, id)
	if snap.State["code_language"] != "rust" {
		t.Errorf("reapplied code_language = %v", snap.State["code_language"])
	}
}

func TestEngine_MergeTableOption(t *testing.T) {
	ctx := context.Background()

	reg := NewRegistry()
	_ = reg.Register("tag", CapabilityFunc(func(ctx context.Context, in map[string]any) Stream {
		return Updates(
			Update{Status: "progress", Delta: map[string]any{"tags": "a"}},
			Update{Status: UpdateCompleted, Delta: map[string]any{"tags": []any{"b", "c"}}},
		)
	}))
	engine, _, _ := newTestEngine(t, reg, WithMergeTable(MergeTable{"tags": Append}))

	g := WorkflowGraph{
		Nodes: []Node{{ID: "first", Capability: "tag"}, {ID: "second", Capability: "tag"}},
		Edges: []Edge{{Source: "first", Target: "second"}, {Source: "second", Target: Terminal}},
	}
	id, _, err := engine.Execute(ctx, g, map[string]any{"tags": []any{"seed"}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	snap, _ := engine.State(ctx, id)
	want := []any{"seed", "a", "b", "c", "a", "b", "c"}
	if !reflect.DeepEqual(snap.State["tags"], want) {
		t.Errorf("tags = %v, want %v", snap.State["tags"], want)
	}
}
