package research

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// extractJSON returns the JSON document inside a fenced code block, or the
// whole trimmed text when there is no fence.
func extractJSON(text string) string {
	content := strings.TrimSpace(text)
	if _, after, ok := strings.Cut(content, "```json"); ok {
		block, _, _ := strings.Cut(after, "```")
		return strings.TrimSpace(block)
	}
	if _, after, ok := strings.Cut(content, "```"); ok {
		block, _, _ := strings.Cut(after, "```")
		return strings.TrimSpace(block)
	}
	return content
}

// decodeJSON decodes the JSON carried by an LLM response into v.
func decodeJSON(text string, v any) error {
	if err := json.Unmarshal([]byte(extractJSON(text)), v); err != nil {
		return fmt.Errorf("response is not valid JSON: %w", err)
	}
	return nil
}

// maxKeyPoints bounds the key points extracted from a summary.
const maxKeyPoints = 5

// keyPoints collects bullet and numbered lines from a summary, stripped of
// their markers.
func keyPoints(summary string) []any {
	points := make([]any, 0, maxKeyPoints)
	for _, line := range strings.Split(summary, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		first := []rune(line)[0]
		if first != '-' && first != '•' && !unicode.IsDigit(first) {
			continue
		}
		point := strings.TrimLeft(line, "-•0123456789. ")
		if point == "" {
			continue
		}
		points = append(points, point)
		if len(points) == maxKeyPoints {
			break
		}
	}
	return points
}

// toMaps converts decoded JSON objects to []any for the state.
func toMaps[T any](items []T) ([]any, error) {
	data, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	var out []any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []any{}
	}
	return out, nil
}
