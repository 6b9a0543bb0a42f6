package emit

// NullSink discards all events.
//
// Use it when observability is not needed, or as the default when no sink is
// configured.
type NullSink struct{}

// NewNullSink creates a sink that discards events.
func NewNullSink() *NullSink {
	return &NullSink{}
}

// Emit implements Sink.
func (n *NullSink) Emit(string, Event) {}
