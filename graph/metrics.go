package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics provides Prometheus-compatible metrics for workflow
// execution.
//
// Metrics exposed (namespace "rewindgraph"):
//   - inflight_steps: steps currently executing across all threads
//   - step_latency_ms: step duration histogram by capability and status
//   - steps_total: finished steps by capability and status
//   - checkpoints_total: checkpoints appended
//   - rewinds_total: rewinds performed, including those done by
//     UpdateAndResume
//   - failures_total: failed steps by error kind
//
// All methods are safe on a nil receiver, so the engine records metrics
// unconditionally.
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	engine, _ := graph.New(caps, st, graph.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type PrometheusMetrics struct {
	inflightSteps prometheus.Gauge

	stepLatency *prometheus.HistogramVec
	steps       *prometheus.CounterVec
	failures    *prometheus.CounterVec

	checkpoints prometheus.Counter
	rewinds     prometheus.Counter

	registry prometheus.Registerer

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers the metrics with registry. A nil
// registry uses prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{
		registry: registry,
		enabled:  true,
	}

	pm.inflightSteps = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "rewindgraph",
		Name:      "inflight_steps",
		Help:      "Number of steps currently executing across all threads",
	})

	pm.stepLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rewindgraph",
		Name:      "step_latency_ms",
		Help:      "Step duration in milliseconds, from input guardrails to checkpoint",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
	}, []string{"capability", "status"}) // status: completed, failed, cancelled

	pm.steps = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rewindgraph",
		Name:      "steps_total",
		Help:      "Finished steps by capability and outcome",
	}, []string{"capability", "status"})

	pm.failures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rewindgraph",
		Name:      "failures_total",
		Help:      "Failed steps by error kind",
	}, []string{"kind"})

	pm.checkpoints = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "rewindgraph",
		Name:      "checkpoints_total",
		Help:      "Checkpoints appended to the store",
	})

	pm.rewinds = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "rewindgraph",
		Name:      "rewinds_total",
		Help:      "Thread rewinds performed",
	})

	return pm
}

func (pm *PrometheusMetrics) on() bool {
	if pm == nil {
		return false
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// StepStarted increments the in-flight gauge.
func (pm *PrometheusMetrics) StepStarted() {
	if !pm.on() {
		return
	}
	pm.inflightSteps.Inc()
}

// StepFinished decrements the in-flight gauge and records the step's latency
// and outcome.
func (pm *PrometheusMetrics) StepFinished(capability, status string, latency time.Duration) {
	if !pm.on() {
		return
	}
	pm.inflightSteps.Dec()
	pm.stepLatency.WithLabelValues(capability, status).Observe(float64(latency.Milliseconds()))
	pm.steps.WithLabelValues(capability, status).Inc()
}

// IncrementFailures counts a failed step of the given error kind.
func (pm *PrometheusMetrics) IncrementFailures(kind string) {
	if !pm.on() {
		return
	}
	pm.failures.WithLabelValues(kind).Inc()
}

// IncrementCheckpoints counts an appended checkpoint.
func (pm *PrometheusMetrics) IncrementCheckpoints() {
	if !pm.on() {
		return
	}
	pm.checkpoints.Inc()
}

// IncrementRewinds counts a rewind.
func (pm *PrometheusMetrics) IncrementRewinds() {
	if !pm.on() {
		return
	}
	pm.rewinds.Inc()
}

// Disable stops metric collection. Useful for tests or temporarily reducing
// overhead.
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable resumes metric collection after Disable.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}

// Reset zeroes the in-flight gauge. Counters and histograms are cumulative and
// are not reset.
func (pm *PrometheusMetrics) Reset() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.inflightSteps.Set(0)
}
