package model

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestSplit(t *testing.T) {
	system, rest := Split([]Message{
		{Role: RoleSystem, Content: "a"},
		{Role: RoleUser, Content: "q"},
		{Role: RoleSystem, Content: "b"},
		{Role: RoleAssistant, Content: "r"},
	})
	if system != "a\n\nb" {
		t.Errorf("system = %q", system)
	}
	if len(rest) != 2 || rest[0].Content != "q" || rest[1].Content != "r" {
		t.Errorf("conversation = %+v", rest)
	}
}

func TestMockChatModel(t *testing.T) {
	m := &MockChatModel{Responses: []ChatOut{{Text: "one"}, {Text: "two"}}}
	ctx := context.Background()

	for _, want := range []string{"one", "two", "two"} {
		out, err := m.Chat(ctx, []Message{{Role: RoleUser, Content: "x"}})
		if err != nil {
			t.Fatal(err)
		}
		if out.Text != want {
			t.Errorf("got %q, want %q", out.Text, want)
		}
	}
	if m.CallCount() != 3 {
		t.Errorf("CallCount = %d", m.CallCount())
	}

	m.Reset()
	if out, _ := m.Chat(ctx, nil); out.Text != "one" {
		t.Errorf("after Reset got %q", out.Text)
	}

	m.Err = errors.New("boom")
	if _, err := m.Chat(ctx, nil); err == nil {
		t.Error("expected configured error")
	}
}

func TestCostTracker_Wrap(t *testing.T) {
	tracker := NewCostTracker()
	tracker.SetPricing("test-model", Pricing{InputPer1M: 1, OutputPer1M: 2})

	mock := &MockChatModel{Responses: []ChatOut{{Text: "ok", Usage: Usage{InputTokens: 1_000_000, OutputTokens: 500_000}}}}
	m := tracker.Wrap(mock, "test-model")

	if _, err := m.Chat(context.Background(), nil); err != nil {
		t.Fatal(err)
	}

	if got := tracker.TotalCost(); math.Abs(got-2.0) > 1e-9 {
		t.Errorf("TotalCost = %v, want 2.0", got)
	}
	in, out := tracker.Tokens()
	if in != 1_000_000 || out != 500_000 {
		t.Errorf("Tokens = %d, %d", in, out)
	}
	if len(tracker.Calls()) != 1 {
		t.Errorf("Calls = %d", len(tracker.Calls()))
	}

	mock.Err = errors.New("down")
	if _, err := m.Chat(context.Background(), nil); err == nil {
		t.Fatal("expected error")
	}
	if len(tracker.Calls()) != 1 {
		t.Error("failed calls must not be metered")
	}
}

func TestCostTracker_UnknownModelIsFree(t *testing.T) {
	tracker := NewCostTracker()
	call := tracker.Record("unlisted", Usage{InputTokens: 100, OutputTokens: 100})
	if call.CostUSD != 0 {
		t.Errorf("CostUSD = %v", call.CostUSD)
	}
	if tracker.CostByModel()["unlisted"] != 0 {
		t.Error("unexpected cost")
	}
}
