package emit

import (
	"context"
	"errors"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelSink records each event as an OpenTelemetry span.
//
// Span name is the event type. Standard attributes:
//   - rewindgraph.thread_id
//   - rewindgraph.sequence
//   - rewindgraph.node_id (when set)
//
// Scalar payload values become attributes prefixed with "rewindgraph.payload.".
// execution_failed events mark the span with an error status.
//
// Example:
//
//	tracer := otel.Tracer("rewindgraph")
//	sink := emit.NewOTelSink(tracer)
type OTelSink struct {
	tracer trace.Tracer
}

// NewOTelSink creates a sink that starts and ends one span per event.
func NewOTelSink(tracer trace.Tracer) *OTelSink {
	return &OTelSink{tracer: tracer}
}

// Emit implements Sink.
func (o *OTelSink) Emit(threadID string, event Event) {
	opts := []trace.SpanStartOption{}
	if !event.Timestamp.IsZero() {
		opts = append(opts, trace.WithTimestamp(event.Timestamp))
	}

	_, span := o.tracer.Start(context.Background(), event.Type, opts...)
	defer span.End()

	span.SetAttributes(
		attribute.String("rewindgraph.thread_id", threadID),
		attribute.Int("rewindgraph.sequence", event.Sequence),
	)
	if event.NodeID != "" {
		span.SetAttributes(attribute.String("rewindgraph.node_id", event.NodeID))
	}

	o.addPayloadAttributes(span, event.Payload)

	if event.Type == ExecutionFailed {
		msg, _ := event.Payload["error"].(string)
		span.SetStatus(codes.Error, msg)
		span.RecordError(errors.New(msg))
	}
}

func (o *OTelSink) addPayloadAttributes(span trace.Span, payload map[string]any) {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		attrKey := "rewindgraph.payload." + key
		switch v := payload[key].(type) {
		case string:
			span.SetAttributes(attribute.String(attrKey, v))
		case int:
			span.SetAttributes(attribute.Int(attrKey, v))
		case int64:
			span.SetAttributes(attribute.Int64(attrKey, v))
		case float64:
			span.SetAttributes(attribute.Float64(attrKey, v))
		case bool:
			span.SetAttributes(attribute.Bool(attrKey, v))
		}
	}
}

// Flush forces the global tracer provider to export pending spans, when it
// supports flushing.
func (o *OTelSink) Flush(ctx context.Context) error {
	type flusher interface {
		ForceFlush(context.Context) error
	}

	if f, ok := otel.GetTracerProvider().(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}
