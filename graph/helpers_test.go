package graph

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dshills/rewindgraph/graph/emit"
	"github.com/dshills/rewindgraph/graph/store"
)

const longSummary = "Async runtimes schedule cooperative tasks over a small pool of worker threads."

// researchGraph is the four-step research workflow used across the engine
// tests.
func researchGraph() WorkflowGraph {
	return WorkflowGraph{
		Name: "research",
		Nodes: []Node{
			{ID: "planner", Capability: "planner"},
			{ID: "literature_search", Capability: "literature_search"},
			{ID: "code_search", Capability: "code_search"},
			{ID: "summarizer", Capability: "summarizer"},
		},
		Edges: []Edge{
			{Source: "planner", Target: "literature_search"},
			{Source: "literature_search", Target: "code_search"},
			{Source: "code_search", Target: "summarizer"},
			{Source: "summarizer", Target: Terminal},
		},
		Merge: MergeTable{"messages": Append},
	}
}

// fakeResearch provides deterministic stand-ins for the research
// capabilities and counts how often each one runs.
type fakeResearch struct {
	summary string

	mu   sync.Mutex
	runs map[string]int
}

func newFakeResearch(summary string) *fakeResearch {
	return &fakeResearch{summary: summary, runs: make(map[string]int)}
}

func (f *fakeResearch) ran(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[name]++
}

func (f *fakeResearch) runsOf(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs[name]
}

func (f *fakeResearch) registry(t *testing.T) *Registry {
	t.Helper()

	reg := NewRegistry()
	register := func(name string, fn CapabilityFunc) {
		if err := reg.Register(name, fn); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}

	register("planner", func(ctx context.Context, in map[string]any) Stream {
		f.ran("planner")
		question, _ := in["question"].(string)
		return Updates(
			Update{Status: "planning", Message: "Creating research plan"},
			Update{Status: UpdateCompleted, Message: "Plan created", Delta: map[string]any{
				"plan":         []any{"Search literature on " + question, "Search code", "Summarize"},
				"current_step": "planning",
				"messages":     "plan created",
			}},
		)
	})

	register("literature_search", func(ctx context.Context, in map[string]any) Stream {
		f.ran("literature_search")
		return Updates(
			Update{Status: "searching", Message: "Searching literature"},
			Update{Status: "found_paper", Data: map[string]any{"paper": map[string]any{"title": "Paper A"}}},
			Update{Status: "found_paper", Data: map[string]any{"paper": map[string]any{"title": "Paper B"}}},
			Update{Status: UpdateCompleted, Message: "Found 2 papers", Delta: map[string]any{
				"literature_results": []any{"Paper A", "Paper B"},
				"current_step":       "literature_search",
				"messages":           "found 2 papers",
			}},
		)
	})

	register("code_search", func(ctx context.Context, in map[string]any) Stream {
		f.ran("code_search")
		language := "python"
		if l, ok := in["language"].(string); ok && l != "" {
			language = l
		}
		return Updates(
			Update{Status: "found_code", Data: map[string]any{"repository": "example/" + language + "-research"}},
			Update{Status: UpdateCompleted, Message: "Found 1 repository", Delta: map[string]any{
				"code_results":  []any{map[string]any{"repository": "example/" + language + "-research"}},
				"code_language": language,
				"current_step":  "code_search",
				"messages":      "found 1 repository",
			}},
		)
	})

	register("summarizer", func(ctx context.Context, in map[string]any) Stream {
		f.ran("summarizer")
		summary := fmt.Sprintf("%s Code examples in %v.", f.summary, in["code_language"])
		return Updates(Update{Status: UpdateCompleted, Message: "Summary ready", Delta: map[string]any{
			"summary":      summary,
			"word_count":   len(strings.Fields(summary)),
			"key_points":   []any{"point one", "point two"},
			"current_step": "summarizer",
			"messages":     "summary ready",
		}})
	})

	return reg
}

// newTestEngine builds an engine over a memory store with a deterministic
// clock and sequential thread ids.
func newTestEngine(t *testing.T, caps *Registry, opts ...Option) (*Engine, *store.MemStore, *emit.BufferedSink) {
	t.Helper()

	st := store.NewMemStore()
	sink := emit.NewBufferedSink()

	var ticks, ids atomic.Int64
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	all := append([]Option{
		WithSink(sink),
		WithClock(func() time.Time { return base.Add(time.Duration(ticks.Add(1)) * time.Second) }),
		WithIDGenerator(func() string { return fmt.Sprintf("thread-%d", ids.Add(1)) }),
	}, opts...)

	engine, err := New(caps, st, all...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return engine, st, sink
}

func stepNames(h History) []string {
	names := make([]string, len(h))
	for i, cp := range h {
		names[i] = cp.StepName
	}
	return names
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
