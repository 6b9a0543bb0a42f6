package openai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openai/openai-go"

	"github.com/dshills/rewindgraph/graph/model"
)

type fakeClient struct {
	responses []*openai.ChatCompletion
	errs      []error
	params    []openai.ChatCompletionNewParams
}

func (f *fakeClient) complete(_ context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	i := len(f.params)
	f.params = append(f.params, params)
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return f.responses[i], nil
}

func completion(text string) *openai.ChatCompletion {
	return &openai.ChatCompletion{
		Model: "gpt-4o-mini",
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: text}},
		},
		Usage: openai.CompletionUsage{PromptTokens: 12, CompletionTokens: 30},
	}
}

func TestChatModel_Chat(t *testing.T) {
	client := &fakeClient{responses: []*openai.ChatCompletion{completion("a plan")}}
	m := &ChatModel{modelName: "gpt-4o-mini", client: client}

	out, err := m.Chat(context.Background(), []model.Message{
		{Role: model.RoleSystem, Content: "You are a planner."},
		{Role: model.RoleUser, Content: "Plan it"},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out.Text != "a plan" {
		t.Errorf("Text = %q", out.Text)
	}
	if out.Usage.InputTokens != 12 || out.Usage.OutputTokens != 30 {
		t.Errorf("Usage = %+v", out.Usage)
	}
	if got := len(client.params[0].Messages); got != 2 {
		t.Errorf("sent %d messages, want 2", got)
	}
	if client.params[0].Model != "gpt-4o-mini" {
		t.Errorf("Model = %q", client.params[0].Model)
	}
}

func TestChatModel_RetriesTransientErrors(t *testing.T) {
	client := &fakeClient{
		errs:      []error{errors.New("connection reset"), nil},
		responses: []*openai.ChatCompletion{nil, completion("ok")},
	}
	m := &ChatModel{modelName: "gpt-4o-mini", client: client, maxRetries: 2, retryDelay: time.Millisecond}

	out, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out.Text != "ok" || len(client.params) != 2 {
		t.Errorf("got %q after %d calls", out.Text, len(client.params))
	}
}

func TestChatModel_EmptyChoices(t *testing.T) {
	client := &fakeClient{responses: []*openai.ChatCompletion{{}}}
	m := &ChatModel{modelName: "gpt-4o-mini", client: client}

	if _, err := m.Chat(context.Background(), nil); err == nil {
		t.Fatal("expected error for a response without choices")
	}
}

func TestChatModel_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := &ChatModel{modelName: "gpt-4o-mini", client: &fakeClient{}}
	if _, err := m.Chat(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestIsTransientError(t *testing.T) {
	if isTransientError(context.DeadlineExceeded) {
		t.Error("deadline exceeded must not be retried")
	}
	if !isTransientError(errors.New("dial tcp: i/o timeout")) {
		t.Error("transport errors should be retried")
	}
}
