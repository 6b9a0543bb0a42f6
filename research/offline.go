package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dshills/rewindgraph/graph/model"
)

// OfflineModel answers the research prompts without a provider. It returns a
// two-step plan, two papers per query and a bulleted summary, all derived
// from the request, so the workflow runs end to end with no API key.
type OfflineModel struct{}

// Chat implements model.ChatModel.
func (OfflineModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}
	system, conversation := model.Split(messages)
	var prompt string
	if n := len(conversation); n > 0 {
		prompt = conversation[n-1].Content
	}

	var text string
	switch system {
	case plannerPrompt:
		data, err := json.Marshal(defaultPlan(prompt))
		if err != nil {
			return model.ChatOut{}, err
		}
		text = string(data)
	case literaturePrompt:
		topic := strings.TrimPrefix(prompt, "Find papers about: ")
		data, err := json.Marshal([]Paper{
			{Title: "A Survey of " + topic, Authors: []string{"Offline Model"}, Summary: "An overview of approaches to " + topic + "."},
			{Title: "Practical " + topic, Authors: []string{"Offline Model"}, Summary: "Lessons from applying " + topic + " in production."},
		})
		if err != nil {
			return model.ChatOut{}, err
		}
		text = string(data)
	default:
		text = fmt.Sprintf("Offline summary of %d characters of findings.\n"+
			"- Literature and code results were collected\n"+
			"- Configure a model provider for a real synthesis", len(prompt))
	}
	return model.ChatOut{Text: text, Model: "offline"}, nil
}
