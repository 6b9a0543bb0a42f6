// Package google adapts the Gemini API to model.ChatModel.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dshills/rewindgraph/graph/model"
)

// DefaultModel is used when NewChatModel is given no model name.
const DefaultModel = "gemini-2.5-flash"

// ChatModel implements model.ChatModel for Google Gemini.
//
// System messages become the model's system instruction; other messages are
// sent as text parts in order.
type ChatModel struct {
	apiKey    string
	modelName string
	client    contentClient
}

type contentClient interface {
	generate(ctx context.Context, system string, parts []genai.Part) (*genai.GenerateContentResponse, error)
}

// BlockedError reports a response withheld by Gemini's safety filters.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string {
	return "gemini response blocked: " + e.Reason
}

// NewChatModel creates a Gemini chat model.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	return &ChatModel{
		apiKey:    apiKey,
		modelName: modelName,
		client:    &sdkClient{apiKey: apiKey, modelName: modelName},
	}
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	system, conversation := model.Split(messages)
	parts := make([]genai.Part, 0, len(conversation))
	for _, msg := range conversation {
		if msg.Content != "" {
			parts = append(parts, genai.Text(msg.Content))
		}
	}
	if len(parts) == 0 {
		return model.ChatOut{}, errors.New("google: at least one non-empty message is required")
	}

	resp, err := m.client.generate(ctx, system, parts)
	if err != nil {
		return model.ChatOut{}, err
	}
	return convertResponse(resp, m.modelName)
}

func convertResponse(resp *genai.GenerateContentResponse, modelName string) (model.ChatOut, error) {
	out := model.ChatOut{Model: modelName}
	if resp == nil {
		return out, errors.New("google: empty response")
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
		return out, &BlockedError{Reason: resp.PromptFeedback.BlockReason.String()}
	}
	if resp.UsageMetadata != nil {
		out.Usage = model.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out, nil
	}

	var texts []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			texts = append(texts, string(text))
		}
	}
	out.Text = strings.Join(texts, "\n")
	return out, nil
}

type sdkClient struct {
	apiKey    string
	modelName string
}

func (c *sdkClient) generate(ctx context.Context, system string, parts []genai.Part) (*genai.GenerateContentResponse, error) {
	if c.apiKey == "" {
		return nil, errors.New("google API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}
	defer func() { _ = client.Close() }()

	gm := client.GenerativeModel(c.modelName)
	if system != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	resp, err := gm.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("google API error: %w", err)
	}
	return resp, nil
}
