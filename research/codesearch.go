package research

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dshills/rewindgraph/graph"
	"github.com/dshills/rewindgraph/graph/tool"
)

// DefaultResultsPerQuery is the GitHub per_page value for each query.
const DefaultResultsPerQuery = 10

// CodeResult is one code search hit.
type CodeResult struct {
	Repository string  `json:"repository"`
	FilePath   string  `json:"file_path"`
	URL        string  `json:"url"`
	Score      float64 `json:"score"`
}

// CodeSearch runs each code query of the plan against the GitHub code search
// API and reports every hit as a found_code update.
//
// The optional "language" input narrows the search with GitHub's language
// qualifier. A non-200 response fails the step with "Failed to search code".
type CodeSearch struct {
	Search tool.Tool
	URL    string
	Logger *slog.Logger
}

// Process implements graph.Capability.
func (c *CodeSearch) Process(ctx context.Context, input map[string]any) graph.Stream {
	return func(yield func(graph.Update, error) bool) {
		qs, ok := queries(input, CodeSearchName)
		if !ok {
			yield(graph.Update{
				Status:  graph.UpdateCompleted,
				Message: "No code search needed",
				Delta: map[string]any{
					"messages":     []any{"No code search needed"},
					"current_step": CodeSearchName,
				},
			}, nil)
			return
		}
		language := stringInput(input, "language")
		perPage := intInput(input, "per_page", DefaultResultsPerQuery)

		var results []CodeResult
		for _, q := range qs {
			if !yield(graph.Update{Status: "searching", Message: "Searching code for: " + q}, nil) {
				return
			}

			found, err := c.search(ctx, q, language, perPage)
			if err != nil {
				if ctx.Err() != nil {
					yield(graph.Update{}, ctx.Err())
					return
				}
				orDiscard(c.Logger).Error("code search failed", "query", q, "error", err)
				yield(graph.Update{Status: graph.UpdateError, Message: "Failed to search code", Data: map[string]any{"error": err.Error()}}, nil)
				return
			}

			for _, r := range found {
				results = append(results, r)
				result, err := toValue(r)
				if err != nil {
					yield(graph.Update{}, err)
					return
				}
				if !yield(graph.Update{Status: "found_code", Message: "Found in: " + r.Repository, Data: map[string]any{"result": result}}, nil) {
					return
				}
			}
		}

		values, err := toMaps(results)
		if err != nil {
			yield(graph.Update{}, err)
			return
		}
		msg := fmt.Sprintf("Found %d code results", len(results))
		delta := map[string]any{
			"code_results": values,
			"messages":     []any{msg},
			"current_step": CodeSearchName,
		}
		if language != "" {
			delta["code_language"] = language
		}
		yield(graph.Update{
			Status:  graph.UpdateCompleted,
			Message: msg,
			Data:    map[string]any{"count": len(results)},
			Delta:   delta,
		}, nil)
	}
}

func (c *CodeSearch) search(ctx context.Context, query, language string, perPage int) ([]CodeResult, error) {
	q := query
	if language != "" {
		q += " language:" + language
	}

	out, err := c.Search.Call(ctx, map[string]any{
		"url":   c.URL,
		"query": map[string]any{"q": q, "per_page": perPage},
	})
	if err != nil {
		return nil, err
	}
	if status, _ := out["status_code"].(int); status != 200 {
		return nil, fmt.Errorf("code search returned status %v", out["status_code"])
	}

	body, ok := out["json"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("code search returned a non-JSON body")
	}
	items, _ := body["items"].([]any)

	results := make([]CodeResult, 0, len(items))
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		r := CodeResult{}
		if repo, ok := item["repository"].(map[string]any); ok {
			r.Repository, _ = repo["full_name"].(string)
		}
		r.FilePath, _ = item["path"].(string)
		r.URL, _ = item["html_url"].(string)
		r.Score, _ = item["score"].(float64)
		results = append(results, r)
	}
	return results, nil
}
