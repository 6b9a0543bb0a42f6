package graph

import (
	"log/slog"
	"time"

	"github.com/dshills/rewindgraph/graph/emit"
	"github.com/dshills/rewindgraph/graph/guard"
)

// Option is a functional option for configuring an Engine.
//
// Example:
//
//	engine, err := graph.New(caps, st,
//	    graph.WithSink(hub),
//	    graph.WithMetrics(metrics),
//	    graph.WithLogger(logger),
//	)
type Option func(*engineConfig) error

// engineConfig collects options before they are applied to an Engine.
type engineConfig struct {
	sink    emit.Sink
	merge   MergeTable
	guards  *guard.Registry
	metrics *PrometheusMetrics
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

// WithSink sets the event sink. Default: emit.NullSink.
//
// The engine calls Emit synchronously from the step that produced the event.
// Sinks that may be slow should be wrapped in emit.AsyncSink.
func WithSink(sink emit.Sink) Option {
	return func(cfg *engineConfig) error {
		if sink == nil {
			return &EngineError{Message: "sink cannot be nil", Code: "INVALID_OPTION"}
		}
		cfg.sink = sink
		return nil
	}
}

// WithMergeTable sets the default merge table. A graph's own Merge entries
// take precedence field by field.
func WithMergeTable(table MergeTable) Option {
	return func(cfg *engineConfig) error {
		if err := table.Validate(); err != nil {
			return &EngineError{Message: err.Error(), Code: "INVALID_MERGE_TABLE", Cause: err}
		}
		cfg.merge = table
		return nil
	}
}

// WithGuardrails sets the registry used to build the guardrails named by
// nodes. Default: guard.NewRegistry() with the built-ins.
func WithGuardrails(registry *guard.Registry) Option {
	return func(cfg *engineConfig) error {
		if registry == nil {
			return &EngineError{Message: "guardrail registry cannot be nil", Code: "INVALID_OPTION"}
		}
		cfg.guards = registry
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection.
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	engine, _ := graph.New(caps, st, graph.WithMetrics(metrics))
func WithMetrics(metrics *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.metrics = metrics
		return nil
	}
}

// WithLogger sets the engine's logger. Default: a logger that discards
// everything.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *engineConfig) error {
		if logger == nil {
			return &EngineError{Message: "logger cannot be nil", Code: "INVALID_OPTION"}
		}
		cfg.logger = logger
		return nil
	}
}

// WithClock sets the time source for checkpoint and event timestamps. Tests
// use it to make whole runs reproducible.
func WithClock(now func() time.Time) Option {
	return func(cfg *engineConfig) error {
		if now == nil {
			return &EngineError{Message: "clock cannot be nil", Code: "INVALID_OPTION"}
		}
		cfg.now = now
		return nil
	}
}

// WithIDGenerator sets the thread id generator. Default: random UUIDs.
func WithIDGenerator(newID func() string) Option {
	return func(cfg *engineConfig) error {
		if newID == nil {
			return &EngineError{Message: "id generator cannot be nil", Code: "INVALID_OPTION"}
		}
		cfg.newID = newID
		return nil
	}
}
