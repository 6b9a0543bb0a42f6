// Package model provides LLM integration adapters.
//
// Capabilities talk to language models through ChatModel only. The openai,
// anthropic and google subpackages adapt the vendor SDKs; MockChatModel
// serves tests; CostTracker meters any of them.
package model

import "context"

// ChatModel defines the interface for LLM chat providers.
//
// Implementations should:
//   - Convert the standard Message format to the provider's format
//   - Report token usage when the provider returns it
//   - Respect context cancellation and timeouts
//
// Example:
//
//	m := openai.NewChatModel(apiKey, "gpt-4o-mini")
//	out, err := m.Chat(ctx, []model.Message{
//	    {Role: model.RoleSystem, Content: "You are a research planner."},
//	    {Role: model.RoleUser, Content: "Plan research on quantum error correction"},
//	})
type ChatModel interface {
	Chat(ctx context.Context, messages []Message) (ChatOut, error)
}

// Message is a single message in an LLM conversation.
type Message struct {
	// Role identifies the sender; use the Role constants.
	Role string

	Content string
}

// Standard role constants for LLM conversations.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatOut is the output of a chat completion.
type ChatOut struct {
	// Text is the generated response.
	Text string

	// Model is the model that produced the response, when the provider
	// reports it.
	Model string

	Usage Usage
}

// Usage counts the tokens a call consumed.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Split separates system messages from the conversation. Providers with a
// dedicated system prompt field use it; the system messages are joined with
// blank lines.
func Split(messages []Message) (system string, conversation []Message) {
	for _, msg := range messages {
		if msg.Role != RoleSystem {
			conversation = append(conversation, msg)
			continue
		}
		if system != "" {
			system += "\n\n"
		}
		system += msg.Content
	}
	return system, conversation
}
