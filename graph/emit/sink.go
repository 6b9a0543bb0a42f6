// Package emit delivers execution events to observers.
package emit

// Sink receives events from workflow execution.
//
// Delivery is best-effort. The engine calls Emit synchronously from the step
// that produced the event, so implementations must not block for long: a slow
// or disconnected observer should be wrapped in an AsyncSink, which queues a
// bounded number of events and drops the rest.
//
// Implementations must be safe for concurrent use; many threads emit at once.
//
// Implementations:
//   - LogSink: structured logging through slog
//   - BufferedSink: in-memory history per thread, for tests and inspection
//   - NullSink: discards everything
//   - OTelSink: one span per event
//   - AsyncSink: bounded, non-blocking queue in front of another sink
//   - Hub: routes each thread's events to its subscribers
//   - Multi: fans out to several sinks
type Sink interface {
	Emit(threadID string, event Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(threadID string, event Event)

// Emit implements Sink.
func (f SinkFunc) Emit(threadID string, event Event) {
	f(threadID, event)
}

// Multi fans every event out to each sink in order. Nil sinks are skipped.
type Multi []Sink

// Emit implements Sink.
func (m Multi) Emit(threadID string, event Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(threadID, event)
		}
	}
}
