package emit

import "sync"

// BufferedSink stores events in memory, grouped by thread.
//
// Useful for tests, debugging, and for replaying a thread's progress to an
// observer that connected late. Memory grows with every event; call Clear to
// release a thread's history.
type BufferedSink struct {
	mu     sync.RWMutex
	events map[string][]Event // threadID -> events
}

// HistoryFilter narrows the events returned by HistoryWithFilter. Zero values
// disable a criterion.
type HistoryFilter struct {
	NodeID string // Filter by node ID (empty = no filter)
	Type   string // Filter by event type (empty = no filter)
}

// NewBufferedSink creates an empty buffered sink.
func NewBufferedSink() *BufferedSink {
	return &BufferedSink{
		events: make(map[string][]Event),
	}
}

// Emit implements Sink.
func (b *BufferedSink) Emit(threadID string, event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[threadID] = append(b.events[threadID], event)
}

// History returns a copy of every event of the thread, in emission order.
func (b *BufferedSink) History(threadID string) []Event {
	return b.HistoryWithFilter(threadID, HistoryFilter{})
}

// HistoryWithFilter returns the thread's events matching filter.
func (b *BufferedSink) HistoryWithFilter(threadID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]Event, 0, len(b.events[threadID]))
	for _, event := range b.events[threadID] {
		if filter.NodeID != "" && event.NodeID != filter.NodeID {
			continue
		}
		if filter.Type != "" && event.Type != filter.Type {
			continue
		}
		result = append(result, event)
	}
	return result
}

// Types returns the event types of the thread in emission order.
func (b *BufferedSink) Types(threadID string) []string {
	events := b.History(threadID)
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

// Clear drops the history of threadID, or of every thread when threadID is
// empty.
func (b *BufferedSink) Clear(threadID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if threadID == "" {
		b.events = make(map[string][]Event)
	} else {
		delete(b.events, threadID)
	}
}
