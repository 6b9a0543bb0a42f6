package guard

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Names of the built-in guardrails.
const (
	ContentFilterName   = "content_filter"
	QualityCheckName    = "quality_check"
	FormatValidatorName = "format_validator"
	ExprCheckName       = "expr_check"
)

// DefaultMinLength is the quality_check minimum when min_length is not set.
const DefaultMinLength = 10

// target selects the values a guardrail inspects: a single field when one is
// configured, otherwise every top-level value in key order.
type target struct {
	field string
}

// each calls fn for every targeted value. A configured field that is absent
// from data is skipped.
func (t target) each(data map[string]any, fn func(field string, value any) error) error {
	if t.field != "" {
		v, ok := data[t.field]
		if !ok {
			return nil
		}
		return fn(t.field, v)
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn(k, data[k]); err != nil {
			return err
		}
	}
	return nil
}

// ContentFilter rejects strings containing any blocked word. Matching is
// case-insensitive. Strings nested in lists are inspected too.
type ContentFilter struct {
	BlockedWords []string
	target
}

// NewContentFilter builds a content filter for field ("" means all fields).
func NewContentFilter(field string, blocked ...string) *ContentFilter {
	return &ContentFilter{BlockedWords: blocked, target: target{field: field}}
}

// Name implements Guardrail.
func (c *ContentFilter) Name() string { return ContentFilterName }

// Validate implements Guardrail.
func (c *ContentFilter) Validate(_ context.Context, data map[string]any) (map[string]any, error) {
	err := c.each(data, func(field string, value any) error {
		return c.check(field, value)
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *ContentFilter) check(field string, value any) error {
	switch v := value.(type) {
	case string:
		lower := strings.ToLower(v)
		for _, word := range c.BlockedWords {
			if word != "" && strings.Contains(lower, strings.ToLower(word)) {
				return &ValidationError{
					Guardrail: ContentFilterName,
					Field:     field,
					Reason:    "Content contains blocked word: " + word,
				}
			}
		}
	case []any:
		for _, item := range v {
			if err := c.check(field, item); err != nil {
				return err
			}
		}
	case []string:
		for _, item := range v {
			if err := c.check(field, item); err != nil {
				return err
			}
		}
	}
	return nil
}

// QualityCheck rejects strings shorter than MinLength and empty lists. Other
// value types pass.
type QualityCheck struct {
	MinLength int
	target
}

// NewQualityCheck builds a quality check for field ("" means all fields).
func NewQualityCheck(field string, minLength int) *QualityCheck {
	return &QualityCheck{MinLength: minLength, target: target{field: field}}
}

// Name implements Guardrail.
func (q *QualityCheck) Name() string { return QualityCheckName }

// Validate implements Guardrail.
func (q *QualityCheck) Validate(_ context.Context, data map[string]any) (map[string]any, error) {
	err := q.each(data, func(field string, value any) error {
		switch v := value.(type) {
		case string:
			if len([]rune(v)) < q.MinLength {
				return &ValidationError{
					Guardrail: QualityCheckName,
					Field:     field,
					Reason:    fmt.Sprintf("Content too short. Minimum length: %d", q.MinLength),
				}
			}
		case []any:
			if len(v) == 0 {
				return &ValidationError{Guardrail: QualityCheckName, Field: field, Reason: "Empty results not allowed"}
			}
		case []string:
			if len(v) == 0 {
				return &ValidationError{Guardrail: QualityCheckName, Field: field, Reason: "Empty results not allowed"}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Formats accepted by FormatValidator.
const (
	FormatAny  = "any"
	FormatJSON = "json"
	FormatText = "text"
)

// FormatValidator checks that values have the declared format: "json" needs a
// structured value (map or list), "text" needs a string and "any" accepts
// everything.
type FormatValidator struct {
	Format string
	target
}

// NewFormatValidator builds a format validator for field ("" means all
// fields).
func NewFormatValidator(field, format string) *FormatValidator {
	return &FormatValidator{Format: format, target: target{field: field}}
}

// Name implements Guardrail.
func (f *FormatValidator) Name() string { return FormatValidatorName }

// Validate implements Guardrail.
func (f *FormatValidator) Validate(_ context.Context, data map[string]any) (map[string]any, error) {
	err := f.each(data, func(field string, value any) error {
		switch f.Format {
		case FormatJSON:
			switch value.(type) {
			case map[string]any, []any:
				return nil
			}
			return &ValidationError{Guardrail: FormatValidatorName, Field: field, Reason: "Expected JSON format"}
		case FormatText:
			if _, ok := value.(string); !ok {
				return &ValidationError{Guardrail: FormatValidatorName, Field: field, Reason: "Expected text format"}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}
