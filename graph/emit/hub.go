package emit

import "sync"

// Hub routes events to the sinks subscribed to their thread, plus any sinks
// subscribed to every thread.
//
// The driver subscribes a connection's sink to the threads that connection
// started, so each observer only sees its own executions.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]Sink // threadID -> subscription id -> sink
	global map[uint64]Sink
}

// NewHub creates a hub with no subscribers.
func NewHub() *Hub {
	return &Hub{
		subs:   make(map[string]map[uint64]Sink),
		global: make(map[uint64]Sink),
	}
}

// Subscribe delivers threadID's events to sink until the returned function is
// called. An empty threadID subscribes to every thread.
func (h *Hub) Subscribe(threadID string, sink Sink) (unsubscribe func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID

	if threadID == "" {
		h.global[id] = sink
	} else {
		if h.subs[threadID] == nil {
			h.subs[threadID] = make(map[uint64]Sink)
		}
		h.subs[threadID][id] = sink
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if threadID == "" {
				delete(h.global, id)
				return
			}
			delete(h.subs[threadID], id)
			if len(h.subs[threadID]) == 0 {
				delete(h.subs, threadID)
			}
		})
	}
}

// Emit implements Sink.
func (h *Hub) Emit(threadID string, event Event) {
	h.mu.RLock()
	targets := make([]Sink, 0, len(h.subs[threadID])+len(h.global))
	for _, s := range h.subs[threadID] {
		targets = append(targets, s)
	}
	for _, s := range h.global {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		s.Emit(threadID, event)
	}
}

// Subscribers returns the number of sinks subscribed to threadID.
func (h *Hub) Subscribers(threadID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[threadID])
}
