package anthropic

import (
	"context"
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/dshills/rewindgraph/graph/model"
)

type fakeClient struct {
	reply  *anthropic.Message
	err    error
	params anthropic.MessageNewParams
	calls  int
}

func (f *fakeClient) newMessage(_ context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	f.calls++
	f.params = params
	return f.reply, f.err
}

func TestChatModel_Chat(t *testing.T) {
	client := &fakeClient{reply: &anthropic.Message{
		Model: "claude-3-5-haiku-latest",
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: "first "},
			{Type: "text", Text: "second"},
		},
		Usage: anthropic.Usage{InputTokens: 5, OutputTokens: 7},
	}}
	m := &ChatModel{modelName: "claude-3-5-haiku-latest", maxTokens: 100, client: client}

	out, err := m.Chat(context.Background(), []model.Message{
		{Role: model.RoleSystem, Content: "be brief"},
		{Role: model.RoleUser, Content: "hello"},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out.Text != "first second" {
		t.Errorf("Text = %q", out.Text)
	}
	if out.Usage.InputTokens != 5 || out.Usage.OutputTokens != 7 {
		t.Errorf("Usage = %+v", out.Usage)
	}
	if len(client.params.System) != 1 || client.params.System[0].Text != "be brief" {
		t.Errorf("System = %+v", client.params.System)
	}
	if len(client.params.Messages) != 1 {
		t.Errorf("sent %d messages, want 1", len(client.params.Messages))
	}
	if client.params.MaxTokens != 100 {
		t.Errorf("MaxTokens = %d", client.params.MaxTokens)
	}
}

func TestChatModel_RequiresConversation(t *testing.T) {
	client := &fakeClient{}
	m := &ChatModel{modelName: DefaultModel, client: client}

	_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleSystem, Content: "only system"}})
	if err == nil {
		t.Fatal("expected error without user messages")
	}
	if client.calls != 0 {
		t.Error("API must not be called")
	}
}

func TestChatModel_WrapsAPIError(t *testing.T) {
	apiErr := errors.New("overloaded")
	m := &ChatModel{modelName: DefaultModel, client: &fakeClient{err: apiErr}}

	_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "hi"}})
	if !errors.Is(err, apiErr) {
		t.Fatalf("err = %v, want wrapped %v", err, apiErr)
	}
}
