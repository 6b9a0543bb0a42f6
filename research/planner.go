package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dshills/rewindgraph/graph"
	"github.com/dshills/rewindgraph/graph/model"
)

const plannerPrompt = `You are a research planning assistant. Given a research question, create a workflow plan.
Output ONLY a valid JSON object with this structure:
{
  "steps": [
    {"id": "step1", "agent": "literature_search", "description": "Search for academic papers on the topic", "query": "specific search query"},
    {"id": "step2", "agent": "code_search", "description": "Find code implementations", "query": "code search query"}
  ]
}
Do not include any text before or after the JSON.`

// Step is one entry of a research plan.
type Step struct {
	ID          string `json:"id"`
	Agent       string `json:"agent"`
	Description string `json:"description,omitempty"`
	Query       string `json:"query,omitempty"`
}

// Plan is the planner's output.
type Plan struct {
	Steps []Step `json:"steps"`
}

// Planner turns the research question into a Plan.
//
// When the model's answer is not a usable plan, the planner falls back to a
// two-step plan (literature search then code search, both on the question)
// and says so in its message. A model call that fails outright fails the
// step.
type Planner struct {
	Model  model.ChatModel
	Logger *slog.Logger
}

// Process implements graph.Capability.
func (p *Planner) Process(ctx context.Context, input map[string]any) graph.Stream {
	return func(yield func(graph.Update, error) bool) {
		question := stringInput(input, "question")
		if question == "" {
			yield(graph.Update{Status: graph.UpdateError, Message: "question is required"}, nil)
			return
		}

		if !yield(graph.Update{Status: "starting", Message: "Analyzing research question..."}, nil) {
			return
		}

		out, err := p.Model.Chat(ctx, []model.Message{
			{Role: model.RoleSystem, Content: plannerPrompt},
			{Role: model.RoleUser, Content: question},
		})
		if err != nil {
			yield(graph.Update{}, fmt.Errorf("planner: %w", err))
			return
		}

		if !yield(graph.Update{Status: "planning", Message: "Creating workflow plan..."}, nil) {
			return
		}

		plan, err := parsePlan(out.Text)
		msg := fmt.Sprintf("Created research plan with %d steps", len(plan.Steps))
		if err != nil {
			orDiscard(p.Logger).Warn("planner answer unusable, using default plan", "error", err)
			plan = defaultPlan(question)
			msg = fmt.Sprintf("Created default research plan (%v)", err)
		}

		planValue, err := toValue(plan)
		if err != nil {
			yield(graph.Update{}, fmt.Errorf("planner: %w", err))
			return
		}

		yield(graph.Update{
			Status:  graph.UpdateCompleted,
			Message: msg,
			Data:    map[string]any{"steps": len(plan.Steps)},
			Delta: map[string]any{
				"plan":         planValue,
				"messages":     []any{msg},
				"current_step": PlannerName,
			},
		}, nil)
	}
}

func parsePlan(text string) (Plan, error) {
	var plan Plan
	if err := decodeJSON(text, &plan); err != nil {
		return Plan{}, err
	}
	if len(plan.Steps) == 0 {
		return Plan{}, errors.New("invalid plan structure: no steps")
	}
	for i, s := range plan.Steps {
		if s.Agent == "" {
			return Plan{}, fmt.Errorf("invalid plan structure: step %d has no agent", i+1)
		}
	}
	return plan, nil
}

func defaultPlan(question string) Plan {
	return Plan{Steps: []Step{
		{ID: "step1", Agent: LiteratureSearchName, Description: "Search for information about the topic", Query: question},
		{ID: "step2", Agent: CodeSearchName, Description: "Find relevant code examples", Query: question},
	}}
}

// queries returns the search queries for agent. An explicit "query" input
// (node config or resume parameters) wins; otherwise the plan's steps for
// agent are used, with the question standing in for a missing query. ok is
// false when the plan has no step for agent.
func queries(input map[string]any, agent string) (qs []string, ok bool) {
	if q := stringInput(input, "query"); q != "" {
		return []string{q}, true
	}

	question := stringInput(input, "question")
	raw, present := input["plan"]
	if !present {
		if question == "" {
			return nil, false
		}
		return []string{question}, true
	}

	var plan Plan
	data, err := json.Marshal(raw)
	if err == nil {
		err = json.Unmarshal(data, &plan)
	}
	if err != nil {
		return nil, false
	}
	for _, s := range plan.Steps {
		if s.Agent != agent {
			continue
		}
		q := s.Query
		if q == "" {
			q = question
		}
		qs = append(qs, q)
	}
	return qs, len(qs) > 0
}

func stringInput(input map[string]any, key string) string {
	s, _ := input[key].(string)
	return strings.TrimSpace(s)
}

func intInput(input map[string]any, key string, def int) int {
	switch n := input[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return def
}

func toValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
