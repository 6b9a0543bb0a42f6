package research

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dshills/rewindgraph/graph"
	"github.com/dshills/rewindgraph/graph/model"
)

const literaturePrompt = `You are a literature search agent. Generate 3 relevant academic paper titles and summaries.
Output ONLY a JSON array like this:
[
  {"title": "Paper Title", "authors": ["Author 1", "Author 2"], "summary": "Brief summary of the paper"}
]`

// Paper is one literature search result.
type Paper struct {
	Title   string   `json:"title"`
	Authors []string `json:"authors"`
	Summary string   `json:"summary"`
}

// LiteratureSearch asks the model for papers on each literature query of the
// plan and reports every paper as a found_paper update.
//
// An unusable model answer yields one placeholder paper for the query rather
// than failing the step. The optional "max_papers" input caps the result.
type LiteratureSearch struct {
	Model  model.ChatModel
	Logger *slog.Logger
}

// Process implements graph.Capability.
func (l *LiteratureSearch) Process(ctx context.Context, input map[string]any) graph.Stream {
	return func(yield func(graph.Update, error) bool) {
		qs, ok := queries(input, LiteratureSearchName)
		if !ok {
			yield(graph.Update{
				Status:  graph.UpdateCompleted,
				Message: "No literature search needed",
				Delta: map[string]any{
					"messages":     []any{"No literature search needed"},
					"current_step": LiteratureSearchName,
				},
			}, nil)
			return
		}
		limit := intInput(input, "max_papers", 0)

		var papers []Paper
		for _, q := range qs {
			if !yield(graph.Update{Status: "searching", Message: "Searching for papers on: " + q}, nil) {
				return
			}

			found, err := l.search(ctx, q)
			if err != nil {
				yield(graph.Update{}, err)
				return
			}

			for _, p := range found {
				if limit > 0 && len(papers) == limit {
					break
				}
				papers = append(papers, p)
				paper, err := toValue(p)
				if err != nil {
					yield(graph.Update{}, err)
					return
				}
				if !yield(graph.Update{Status: "found_paper", Message: "Found: " + p.Title, Data: map[string]any{"paper": paper}}, nil) {
					return
				}
			}
		}

		results, err := toMaps(papers)
		if err != nil {
			yield(graph.Update{}, err)
			return
		}
		msg := fmt.Sprintf("Found %d papers", len(papers))
		yield(graph.Update{
			Status:  graph.UpdateCompleted,
			Message: msg,
			Data:    map[string]any{"count": len(papers)},
			Delta: map[string]any{
				"literature_results": results,
				"messages":           []any{msg},
				"current_step":       LiteratureSearchName,
			},
		}, nil)
	}
}

// search returns the papers for query. Only a cancelled context is an error.
func (l *LiteratureSearch) search(ctx context.Context, query string) ([]Paper, error) {
	out, err := l.Model.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: literaturePrompt},
		{Role: model.RoleUser, Content: "Find papers about: " + query},
	})
	if err == nil {
		var papers []Paper
		if err = decodeJSON(out.Text, &papers); err == nil && len(papers) > 0 {
			return papers, nil
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	orDiscard(l.Logger).Warn("literature search fell back to a placeholder", "query", query, "error", err)
	return []Paper{{
		Title:   "Research on " + query,
		Authors: []string{"Research Team"},
		Summary: "A comprehensive study on " + query,
	}}, nil
}
