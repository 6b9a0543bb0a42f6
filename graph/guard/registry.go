package guard

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a guardrail from its configuration.
type Factory func(config map[string]any) (Guardrail, error)

// Registry maps guardrail names to factories.
//
// NewRegistry comes with the built-ins registered: content_filter,
// quality_check, format_validator and expr_check. Every built-in accepts an
// optional "field" key restricting it to one field of the data.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in guardrails.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(ContentFilterName, newContentFilterFromConfig)
	r.Register(QualityCheckName, newQualityCheckFromConfig)
	r.Register(FormatValidatorName, newFormatValidatorFromConfig)
	r.Register(ExprCheckName, newExprCheckFromConfig)
	return r
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Build instantiates the named guardrail.
func (r *Registry) Build(name string, config map[string]any) (Guardrail, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown guardrail %q", name)
	}

	g, err := f(config)
	if err != nil {
		return nil, fmt.Errorf("guardrail %s: %w", name, err)
	}
	return g, nil
}

// Names lists the registered guardrails, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newContentFilterFromConfig(config map[string]any) (Guardrail, error) {
	field, err := stringOption(config, "field", "")
	if err != nil {
		return nil, err
	}
	words, err := stringsOption(config, "blocked_words")
	if err != nil {
		return nil, err
	}
	return NewContentFilter(field, words...), nil
}

func newQualityCheckFromConfig(config map[string]any) (Guardrail, error) {
	field, err := stringOption(config, "field", "")
	if err != nil {
		return nil, err
	}
	minLength, err := intOption(config, "min_length", DefaultMinLength)
	if err != nil {
		return nil, err
	}
	if minLength < 0 {
		return nil, fmt.Errorf("min_length must be non-negative, got %d", minLength)
	}
	return NewQualityCheck(field, minLength), nil
}

func newFormatValidatorFromConfig(config map[string]any) (Guardrail, error) {
	field, err := stringOption(config, "field", "")
	if err != nil {
		return nil, err
	}
	format, err := stringOption(config, "format", FormatAny)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatAny, FormatJSON, FormatText:
	default:
		return nil, fmt.Errorf("unsupported format %q (supported: any, json, text)", format)
	}
	return NewFormatValidator(field, format), nil
}

func newExprCheckFromConfig(config map[string]any) (Guardrail, error) {
	expression, err := stringOption(config, "expression", "")
	if err != nil {
		return nil, err
	}
	reason, err := stringOption(config, "reason", "")
	if err != nil {
		return nil, err
	}
	return NewExprCheck(expression, reason)
}

func stringOption(config map[string]any, key, def string) (string, error) {
	v, ok := config[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %T", key, v)
	}
	return s, nil
}

func intOption(config map[string]any, key string, def int) (int, error) {
	v, ok := config[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("%s must be a whole number, got %v", key, n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("%s must be a number, got %T", key, v)
	}
}

func stringsOption(config map[string]any, key string) ([]string, error) {
	v, ok := config[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s must contain strings, got %T", key, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be a list of strings, got %T", key, v)
	}
}
