package emit

import (
	"sync"
	"sync/atomic"
)

// AsyncSink decouples the engine from a slow observer.
//
// Emit enqueues the event on a bounded channel and returns immediately; a
// single goroutine delivers queued events to the wrapped sink in order. When
// the queue is full the event is dropped and counted, so a stalled observer
// can never hold up checkpointing.
//
// Close stops accepting events, drains what is queued and waits for delivery
// to finish.
type AsyncSink struct {
	next  Sink
	queue chan envelope
	done  chan struct{}

	mu     sync.RWMutex
	closed bool

	dropped atomic.Uint64
	onDrop  func(threadID string, event Event)
}

type envelope struct {
	threadID string
	event    Event
}

// AsyncOption configures an AsyncSink.
type AsyncOption func(*AsyncSink)

// WithDropHandler registers fn to be called (on the emitting goroutine) for
// every dropped event.
func WithDropHandler(fn func(threadID string, event Event)) AsyncOption {
	return func(a *AsyncSink) {
		a.onDrop = fn
	}
}

// NewAsyncSink starts delivery to next with room for buffer queued events.
// A buffer below 1 is raised to 1.
func NewAsyncSink(next Sink, buffer int, opts ...AsyncOption) *AsyncSink {
	if buffer < 1 {
		buffer = 1
	}
	a := &AsyncSink{
		next:  next,
		queue: make(chan envelope, buffer),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}

	go a.deliver()
	return a
}

func (a *AsyncSink) deliver() {
	defer close(a.done)
	for env := range a.queue {
		a.next.Emit(env.threadID, env.event)
	}
}

// Emit implements Sink. It never blocks.
func (a *AsyncSink) Emit(threadID string, event Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		a.drop(threadID, event)
		return
	}

	select {
	case a.queue <- envelope{threadID: threadID, event: event}:
	default:
		a.drop(threadID, event)
	}
}

func (a *AsyncSink) drop(threadID string, event Event) {
	a.dropped.Add(1)
	if a.onDrop != nil {
		a.onDrop(threadID, event)
	}
}

// Dropped returns how many events were discarded.
func (a *AsyncSink) Dropped() uint64 {
	return a.dropped.Load()
}

// Close drains the queue and stops the delivery goroutine. It is safe to call
// more than once.
func (a *AsyncSink) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	<-a.done
}
