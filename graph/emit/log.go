package emit

import (
	"context"
	"log/slog"
)

// LogSink writes each event as a structured log record.
//
// Failures are logged at error level, updates from running capabilities at
// debug level and everything else at info level.
//
// Example:
//
//	logger := config.NewLogger(os.Stderr, "info", false)
//	sink := emit.NewLogSink(logger)
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink logging through logger (slog.Default when nil).
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Emit implements Sink.
func (l *LogSink) Emit(threadID string, event Event) {
	level := slog.LevelInfo
	switch event.Type {
	case ExecutionFailed:
		level = slog.LevelError
	case NodeUpdate:
		level = slog.LevelDebug
	}

	attrs := []slog.Attr{
		slog.String("thread_id", threadID),
		slog.Int("sequence", event.Sequence),
	}
	if event.NodeID != "" {
		attrs = append(attrs, slog.String("node_id", event.NodeID))
	}
	if status, ok := event.Payload["status"].(string); ok {
		attrs = append(attrs, slog.String("status", status))
	}
	if msg, ok := event.Payload["message"].(string); ok && msg != "" {
		attrs = append(attrs, slog.String("detail", msg))
	}
	if errMsg, ok := event.Payload["error"].(string); ok {
		attrs = append(attrs, slog.String("error", errMsg))
	}
	if kind, ok := event.Payload["kind"].(string); ok {
		attrs = append(attrs, slog.String("kind", kind))
	}

	l.logger.LogAttrs(context.Background(), level, event.Type, attrs...)
}
