package model

import (
	"context"
	"sync"
	"time"
)

// Pricing is the cost of a model in USD per million tokens.
type Pricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// DefaultPricing is a static price table for common models (USD per 1M
// tokens). Prices change; override entries with CostTracker.SetPricing.
var DefaultPricing = map[string]Pricing{
	"gpt-4o":                   {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":              {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4-turbo":              {InputPer1M: 10.00, OutputPer1M: 30.00},
	"gpt-3.5-turbo":            {InputPer1M: 0.50, OutputPer1M: 1.50},
	"claude-3-5-sonnet-latest": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-5-haiku-latest":  {InputPer1M: 0.80, OutputPer1M: 4.00},
	"claude-3-opus-latest":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"gemini-1.5-pro":           {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash":         {InputPer1M: 0.075, OutputPer1M: 0.30},
	"gemini-2.5-flash":         {InputPer1M: 0.30, OutputPer1M: 2.50},
}

// Call is one metered LLM call.
type Call struct {
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	Timestamp    time.Time `json:"timestamp"`
}

// CostTracker accumulates token usage and cost across LLM calls. It is safe
// for concurrent use.
//
// Example:
//
//	tracker := model.NewCostTracker()
//	llm := tracker.Wrap(openai.NewChatModel(key, "gpt-4o-mini"), "gpt-4o-mini")
//	// ... run workflows ...
//	fmt.Printf("spent $%.4f\n", tracker.TotalCost())
type CostTracker struct {
	mu           sync.RWMutex
	pricing      map[string]Pricing
	calls        []Call
	total        float64
	byModel      map[string]float64
	inputTokens  int64
	outputTokens int64
}

// NewCostTracker returns a tracker using DefaultPricing.
func NewCostTracker() *CostTracker {
	pricing := make(map[string]Pricing, len(DefaultPricing))
	for k, v := range DefaultPricing {
		pricing[k] = v
	}
	return &CostTracker{
		pricing: pricing,
		byModel: make(map[string]float64),
	}
}

// SetPricing sets the price of a model.
func (ct *CostTracker) SetPricing(modelName string, p Pricing) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.pricing[modelName] = p
}

// Record adds one call. Unknown models are counted at zero cost.
func (ct *CostTracker) Record(modelName string, usage Usage) Call {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	p := ct.pricing[modelName]
	cost := float64(usage.InputTokens)/1_000_000*p.InputPer1M +
		float64(usage.OutputTokens)/1_000_000*p.OutputPer1M

	call := Call{
		Model:        modelName,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		CostUSD:      cost,
		Timestamp:    time.Now(),
	}
	ct.calls = append(ct.calls, call)
	ct.total += cost
	ct.byModel[modelName] += cost
	ct.inputTokens += int64(usage.InputTokens)
	ct.outputTokens += int64(usage.OutputTokens)
	return call
}

// TotalCost returns the accumulated cost in USD.
func (ct *CostTracker) TotalCost() float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.total
}

// CostByModel returns the accumulated cost per model.
func (ct *CostTracker) CostByModel() map[string]float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	out := make(map[string]float64, len(ct.byModel))
	for k, v := range ct.byModel {
		out[k] = v
	}
	return out
}

// Tokens returns the accumulated input and output token counts.
func (ct *CostTracker) Tokens() (input, output int64) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.inputTokens, ct.outputTokens
}

// Calls returns a copy of the call log.
func (ct *CostTracker) Calls() []Call {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return append([]Call(nil), ct.calls...)
}

// Wrap returns a ChatModel that records the usage of every successful call to
// m. modelName is used for pricing when the response does not name its model.
func (ct *CostTracker) Wrap(m ChatModel, modelName string) ChatModel {
	return &metered{next: m, name: modelName, tracker: ct}
}

type metered struct {
	next    ChatModel
	name    string
	tracker *CostTracker
}

func (m *metered) Chat(ctx context.Context, messages []Message) (ChatOut, error) {
	out, err := m.next.Chat(ctx, messages)
	if err != nil {
		return out, err
	}
	name := m.name
	if name == "" {
		name = out.Model
	}
	m.tracker.Record(name, out.Usage)
	return out, nil
}
