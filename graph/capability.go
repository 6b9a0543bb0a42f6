package graph

import (
	"context"
	"iter"
	"sort"
	"sync"
)

// Conventional Update statuses. Capabilities may use any other status for
// progress updates; only UpdateError is treated specially.
const (
	UpdateCompleted = "completed"
	UpdateError     = "error"
)

// Update is one event produced by a capability while it runs.
//
// Delta is the partial state update carried by the event. The engine merges it
// into the running state as soon as the update is observed, using the graph's
// merge table. Data holds capability-specific progress fields (a paper found,
// a search hit) that are forwarded to observers but never merged into state.
type Update struct {
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Delta   map[string]any `json:"delta,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// payload renders the update the way observers and NodeStates see it.
func (u Update) payload() map[string]any {
	p := map[string]any{"status": u.Status}
	if u.Message != "" {
		p["message"] = u.Message
	}
	for k, v := range u.Data {
		p[k] = v
	}
	if len(u.Delta) > 0 {
		p["delta"] = u.Delta
	}
	return p
}

// Stream is the lazy, finite sequence of updates a capability produces. A
// non-nil error terminates the stream abnormally.
type Stream = iter.Seq2[Update, error]

// Capability is a named unit of work: it consumes an input mapping and
// produces a stream of updates.
//
// A capability must eventually end its stream, either normally or by yielding
// an error, and should honour ctx cancellation. The engine cannot interrupt a
// capability that ignores both; wrap such capabilities with WithTimeout.
//
// A capability signals failure by yielding an update with Status "error" or by
// yielding a non-nil error. Either fails the step.
type Capability interface {
	Process(ctx context.Context, input map[string]any) Stream
}

// CapabilityFunc adapts a function to the Capability interface.
//
// Example:
//
//	echo := graph.CapabilityFunc(func(ctx context.Context, in map[string]any) graph.Stream {
//	    return graph.Updates(graph.Update{
//	        Status: graph.UpdateCompleted,
//	        Delta:  map[string]any{"echo": in["question"]},
//	    })
//	})
type CapabilityFunc func(ctx context.Context, input map[string]any) Stream

// Process implements Capability.
func (f CapabilityFunc) Process(ctx context.Context, input map[string]any) Stream {
	return f(ctx, input)
}

// Updates returns a stream that yields the given updates in order.
func Updates(updates ...Update) Stream {
	return func(yield func(Update, error) bool) {
		for _, u := range updates {
			if !yield(u, nil) {
				return
			}
		}
	}
}

// Failed returns a stream that terminates immediately with err.
func Failed(err error) Stream {
	return func(yield func(Update, error) bool) {
		yield(Update{}, err)
	}
}

// Registry maps capability names to implementations. Adding a capability never
// requires changes to the engine. Registry is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]Capability
}

// NewRegistry creates an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]Capability)}
}

// Register adds c under name. Names must be non-empty and unique.
func (r *Registry) Register(name string, c Capability) error {
	if name == "" {
		return &EngineError{Message: "capability name cannot be empty", Code: "INVALID_CAPABILITY"}
	}
	if c == nil {
		return &EngineError{Message: "capability cannot be nil: " + name, Code: "INVALID_CAPABILITY"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.caps[name]; exists {
		return &EngineError{Message: "duplicate capability: " + name, Code: "DUPLICATE_CAPABILITY"}
	}
	r.caps[name] = c
	return nil
}

// Lookup returns the capability registered under name or a *NotFoundError.
func (r *Registry) Lookup(name string) (Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.caps[name]
	if !ok {
		return nil, &NotFoundError{Kind: "capability", Key: name}
	}
	return c, nil
}

// Names lists registered capabilities in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
