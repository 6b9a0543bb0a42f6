package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dshills/rewindgraph/graph"
	"github.com/dshills/rewindgraph/graph/model"
)

const summarizerPrompt = `You are a research summarizer. Synthesize the findings into a coherent summary. Focus on:
1. Key findings and insights
2. Common themes across sources
3. Contradictions or debates
4. Practical implications
List the key findings as "- " bullet lines.`

// Summarizer condenses the question, literature and code results into a
// summary with up to five key points and a word count.
type Summarizer struct {
	Model  model.ChatModel
	Logger *slog.Logger
}

// Process implements graph.Capability.
func (s *Summarizer) Process(ctx context.Context, input map[string]any) graph.Stream {
	return func(yield func(graph.Update, error) bool) {
		if !yield(graph.Update{Status: "analyzing", Message: "Analyzing content..."}, nil) {
			return
		}

		findings, err := json.Marshal(map[string]any{
			"question":   input["question"],
			"literature": orEmpty(input["literature_results"]),
			"code":       orEmpty(input["code_results"]),
		})
		if err != nil {
			yield(graph.Update{}, fmt.Errorf("summarizer: %w", err))
			return
		}

		if !yield(graph.Update{Status: "summarizing", Message: "Generating summary..."}, nil) {
			return
		}

		out, err := s.Model.Chat(ctx, []model.Message{
			{Role: model.RoleSystem, Content: summarizerPrompt},
			{Role: model.RoleUser, Content: "Summarize these findings: " + string(findings)},
		})
		if err != nil {
			yield(graph.Update{}, fmt.Errorf("summarizer: %w", err))
			return
		}

		summary := strings.TrimSpace(out.Text)
		points := keyPoints(summary)
		words := len(strings.Fields(summary))
		orDiscard(s.Logger).Debug("summary generated", "words", words, "key_points", len(points))

		yield(graph.Update{
			Status:  graph.UpdateCompleted,
			Message: "Summary generated successfully",
			Delta: map[string]any{
				"summary":      summary,
				"key_points":   points,
				"word_count":   words,
				"messages":     []any{"Research summary completed"},
				"current_step": SummarizerName,
			},
		}, nil)
	}
}

func orEmpty(v any) any {
	if v == nil {
		return []any{}
	}
	return v
}
