package research

import (
	"bytes"
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/rewindgraph/graph"
	"github.com/dshills/rewindgraph/graph/store"
	"github.com/dshills/rewindgraph/graph/tool"
)

var reportTime = time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC)

func decodeReport(t *testing.T, delta map[string]any) ([]byte, string) {
	t.Helper()
	report, ok := delta["report"].(map[string]any)
	require.True(t, ok, "report missing from delta")
	doc, err := base64.StdEncoding.DecodeString(report["pdf_base64"].(string))
	require.NoError(t, err)
	return doc, report["filename"].(string)
}

func TestReportGenerator(t *testing.T) {
	gen := &ReportGenerator{Now: func() time.Time { return reportTime }}
	input := map[string]any{
		"title":    "Async Runtimes",
		"metadata": map[string]any{"author": "Research Bot"},
		"sections": []any{
			map[string]any{"title": "Overview", "content": "Executors poll futures.\n\nWork stealing balances load."},
			map[string]any{"title": "Findings", "content": []any{"Yield points matter"}},
			map[string]any{"title": "Papers", "data": []any{
				map[string]any{"title": "Scheduling Async Tasks", "authors": []any{"A. Author"}, "summary": "Work stealing for futures."},
			}},
		},
	}

	updates, err := collect(t, gen.Process(context.Background(), input))
	require.NoError(t, err)
	require.Len(t, updates, 2)
	assert.Equal(t, "generating", updates[0].Status)

	final := updates[1]
	assert.Equal(t, graph.UpdateCompleted, final.Status)
	assert.Equal(t, "PDF report generated successfully", final.Message)
	assert.Equal(t, PDFGeneratorName, final.Delta["current_step"])

	doc, filename := decodeReport(t, final.Delta)
	assert.Equal(t, "Async_Runtimes_20260301_123045.pdf", filename)
	assert.True(t, bytes.HasPrefix(doc, []byte("%PDF-")))
	for _, text := range []string{"Overview", "Executors poll futures.", "- Yield points matter", "Scheduling Async Tasks", "Authors: A. Author"} {
		assert.True(t, bytes.Contains(doc, []byte(text)), "missing %q", text)
	}

	again, err := collect(t, gen.Process(context.Background(), input))
	require.NoError(t, err)
	doc2, _ := decodeReport(t, again[1].Delta)
	assert.Equal(t, doc, doc2, "same input and clock should render the same bytes")
}

func TestReportGenerator_DefaultsFromResearchState(t *testing.T) {
	gen := &ReportGenerator{Now: func() time.Time { return reportTime }}
	updates, err := collect(t, gen.Process(context.Background(), map[string]any{
		"question":   "How do async runtimes work?",
		"summary":    "Async runtimes multiplex tasks.",
		"key_points": []any{"Work stealing balances load"},
		"literature_results": []Paper{
			{Title: "Cooperative Multitasking Revisited", Authors: []string{"B. Author"}, Summary: "Yield points."},
		},
		"code_results": []any{
			map[string]any{"repository": "tokio-rs/tokio", "file_path": "src/runtime.rs", "url": "https://github.com/x"},
		},
	}))
	require.NoError(t, err)

	doc, filename := decodeReport(t, updates[len(updates)-1].Delta)
	assert.Equal(t, "Research_Report_20260301_123045.pdf", filename)
	for _, text := range []string{"Question", "Key Points", "- Work stealing balances load", "Cooperative Multitasking Revisited", "tokio-rs/tokio/src/runtime.rs"} {
		assert.True(t, bytes.Contains(doc, []byte(text)), "missing %q", text)
	}
}

func TestReportGenerator_BadSections(t *testing.T) {
	gen := &ReportGenerator{}
	_, err := collect(t, gen.Process(context.Background(), map[string]any{"sections": "not a list"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode sections")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 200))
	assert.Equal(t, "abc...", truncate("abcdef", 3))
}

func TestReportWorkflow_RunsOffline(t *testing.T) {
	ctx := context.Background()
	reg := graph.NewRegistry()
	require.NoError(t, Register(reg, Deps{
		Model:  OfflineModel{},
		Search: &tool.MockTool{Responses: []map[string]any{githubResponse()}},
		Now:    func() time.Time { return reportTime },
	}))
	engine, err := graph.New(reg, store.NewMemStore(), graph.WithMergeTable(MergeTable()))
	require.NoError(t, err)

	wf := ReportWorkflow()
	_, err = graph.Compile(wf)
	require.NoError(t, err)
	assert.Equal(t, ReportWorkflowName, wf.Name)
	assert.Len(t, wf.Nodes, 5)
	assert.Len(t, Workflow().Nodes, 4, "ReportWorkflow must not alias Workflow's slices")

	id, exec, err := engine.Execute(ctx, wf, map[string]any{"question": "vector clocks"})
	require.NoError(t, err)
	assert.Equal(t, graph.StatusCompleted, exec.Status)

	snap, err := engine.State(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, PDFGeneratorName, snap.State["current_step"])
	doc, filename := decodeReport(t, snap.State)
	assert.Equal(t, "Research_Report_20260301_123045.pdf", filename)
	assert.True(t, bytes.HasPrefix(doc, []byte("%PDF-")))
	assert.True(t, bytes.Contains(doc, []byte("Offline summary")))
}
