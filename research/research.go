// Package research provides the capabilities of the research assistant
// workflow: a planner, a literature search, a GitHub code search, a
// summarizer and a PDF report generator.
//
// The capabilities share one state schema:
//
//	question, plan, literature_results, code_results, code_language,
//	summary, key_points, word_count, current_step  (overwrite)
//	report                                          (overwrite)
//	messages                                        (append)
package research

import (
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/dshills/rewindgraph/graph"
	"github.com/dshills/rewindgraph/graph/model"
	"github.com/dshills/rewindgraph/graph/tool"
)

// Capability names.
const (
	PlannerName          = "planner"
	LiteratureSearchName = "literature_search"
	CodeSearchName       = "code_search"
	SummarizerName       = "summarizer"
	PDFGeneratorName     = "pdf_generator"
)

// Catalog names of the built-in workflows.
const (
	WorkflowName       = "research"
	ReportWorkflowName = "research_report"
)

// DefaultCodeSearchURL is the GitHub code search endpoint.
const DefaultCodeSearchURL = "https://api.github.com/search/code"

// Deps holds what the research capabilities need.
type Deps struct {
	// Model answers the planner, literature search and summarizer prompts.
	Model model.ChatModel

	// Search performs code search requests. Nil uses NewGitHubSearchTool
	// without a token.
	Search tool.Tool

	// SearchURL overrides DefaultCodeSearchURL.
	SearchURL string

	// Timeout bounds each capability's running time. Zero means no bound.
	Timeout time.Duration

	// Now stamps generated reports. Nil uses time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// MergeTable returns the merge policies of the research state.
func MergeTable() graph.MergeTable {
	return graph.MergeTable{"messages": graph.Append}
}

// Workflow returns the linear research workflow:
// planner, literature_search, code_search, summarizer.
func Workflow() graph.WorkflowGraph {
	return graph.WorkflowGraph{
		Name: WorkflowName,
		Nodes: []graph.Node{
			{ID: PlannerName, Capability: PlannerName},
			{ID: LiteratureSearchName, Capability: LiteratureSearchName},
			{ID: CodeSearchName, Capability: CodeSearchName},
			{ID: SummarizerName, Capability: SummarizerName},
		},
		Edges: []graph.Edge{
			{Source: PlannerName, Target: LiteratureSearchName},
			{Source: LiteratureSearchName, Target: CodeSearchName},
			{Source: CodeSearchName, Target: SummarizerName},
			{Source: SummarizerName, Target: graph.Terminal},
		},
		Merge: MergeTable(),
	}
}

// ReportWorkflow returns the research workflow followed by pdf_generator,
// which renders the results into report.pdf_base64.
func ReportWorkflow() graph.WorkflowGraph {
	wf := Workflow()
	wf.Name = ReportWorkflowName
	wf.Nodes = append(wf.Nodes, graph.Node{ID: PDFGeneratorName, Capability: PDFGeneratorName})
	wf.Edges[len(wf.Edges)-1].Target = PDFGeneratorName
	wf.Edges = append(wf.Edges, graph.Edge{Source: PDFGeneratorName, Target: graph.Terminal})
	return wf
}

// Workflows returns the built-in workflows by catalog name.
func Workflows() map[string]graph.WorkflowGraph {
	return map[string]graph.WorkflowGraph{
		WorkflowName:       Workflow(),
		ReportWorkflowName: ReportWorkflow(),
	}
}

// Register adds the research capabilities to reg.
func Register(reg *graph.Registry, deps Deps) error {
	if deps.Model == nil {
		return fmt.Errorf("research: a chat model is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	search := deps.Search
	if search == nil {
		search = NewGitHubSearchTool("")
	}
	url := deps.SearchURL
	if url == "" {
		url = DefaultCodeSearchURL
	}

	caps := map[string]graph.Capability{
		PlannerName:          &Planner{Model: deps.Model, Logger: logger},
		LiteratureSearchName: &LiteratureSearch{Model: deps.Model, Logger: logger},
		CodeSearchName:       &CodeSearch{Search: search, URL: url, Logger: logger},
		SummarizerName:       &Summarizer{Model: deps.Model, Logger: logger},
		PDFGeneratorName:     &ReportGenerator{Now: deps.Now, Logger: logger},
	}
	for _, name := range []string{PlannerName, LiteratureSearchName, CodeSearchName, SummarizerName, PDFGeneratorName} {
		if err := reg.Register(name, graph.WithTimeout(caps[name], deps.Timeout)); err != nil {
			return err
		}
	}
	return nil
}

// NewGitHubSearchTool returns an HTTP tool limited to GitHub's search quota:
// 10 requests a minute without a token, 30 with one.
func NewGitHubSearchTool(token string) *tool.HTTPTool {
	opts := []tool.HTTPOption{
		tool.WithHeader("Accept", "application/vnd.github.v3+json"),
		tool.WithRateLimit(rate.Every(6*time.Second), 1),
	}
	if token != "" {
		opts = append(opts,
			tool.WithHeader("Authorization", "Bearer "+token),
			tool.WithRateLimit(rate.Every(2*time.Second), 1),
		)
	}
	return tool.NewHTTPTool(opts...)
}

func orDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return logger
}
