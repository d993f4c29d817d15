// Package metrics provides Prometheus instrumentation for memory operations.
//
// A nil *Recorder is valid and records nothing, so components can accept one
// unconditionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agentmem"

// Recorder exports memory subsystem metrics in Prometheus format.
type Recorder struct {
	registry *prometheus.Registry

	// LLM metrics
	llmCalls    *prometheus.CounterVec
	llmAttempts *prometheus.HistogramVec
	llmRetries  *prometheus.CounterVec
	llmTokens   *prometheus.CounterVec
	llmLatency  *prometheus.HistogramVec

	// Memory stream metrics
	memoriesRecorded *prometheus.CounterVec
	retrievals       prometheus.Counter
	retrievalLatency prometheus.Histogram

	// Reflection metrics
	reflections          *prometheus.CounterVec
	insightsPersisted    prometheus.Counter
	insightPersistFailed prometheus.Counter
}

// Config configures the recorder.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default recorder configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}
}

// NewRecorder creates a recorder and registers its collectors.
func NewRecorder(cfg Config) *Recorder {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	r := &Recorder{registry: registry}

	r.llmCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "Completed model calls by final outcome",
		},
		[]string{"provider", "outcome"},
	)

	r.llmAttempts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "attempts",
			Help:      "Attempts spent per model call",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		},
		[]string{"provider"},
	)

	r.llmRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "retries_total",
			Help:      "Retried model attempts",
		},
		[]string{"provider"},
	)

	r.llmTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Total tokens reported by the model provider",
		},
		[]string{"provider"},
	)

	r.llmLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "latency_seconds",
			Help:      "Model call latency including retries",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"provider"},
	)

	r.memoriesRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "memories_recorded_total",
			Help:      "Memories appended to the stream",
		},
		[]string{"kind"},
	)

	r.retrievals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "retrievals_total",
			Help:      "Ranked retrievals served",
		},
	)

	r.retrievalLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "retrieval_latency_seconds",
			Help:      "Retrieval latency including the query embedding",
			Buckets:   cfg.LatencyBuckets,
		},
	)

	r.reflections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reflection",
			Name:      "runs_total",
			Help:      "Reflection runs by result",
		},
		[]string{"status"},
	)

	r.insightsPersisted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reflection",
			Name:      "insights_persisted_total",
			Help:      "Insights stored as reflection memories",
		},
	)

	r.insightPersistFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reflection",
			Name:      "insights_failed_total",
			Help:      "Insights that could not be stored",
		},
	)

	registry.MustRegister(
		r.llmCalls,
		r.llmAttempts,
		r.llmRetries,
		r.llmTokens,
		r.llmLatency,
		r.memoriesRecorded,
		r.retrievals,
		r.retrievalLatency,
		r.reflections,
		r.insightsPersisted,
		r.insightPersistFailed,
	)

	return r
}

// RecordLLMCall records the final outcome of a retried model call.
func (r *Recorder) RecordLLMCall(provider, outcome string, attempts int, latency time.Duration) {
	if r == nil {
		return
	}
	r.llmCalls.WithLabelValues(provider, outcome).Inc()
	r.llmAttempts.WithLabelValues(provider).Observe(float64(attempts))
	r.llmLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

// RecordLLMRetry counts one retried attempt.
func (r *Recorder) RecordLLMRetry(provider string) {
	if r == nil {
		return
	}
	r.llmRetries.WithLabelValues(provider).Inc()
}

// RecordLLMTokens records token usage.
func (r *Recorder) RecordLLMTokens(provider string, count int) {
	if r == nil || count <= 0 {
		return
	}
	r.llmTokens.WithLabelValues(provider).Add(float64(count))
}

// RecordMemory counts a memory appended to the stream.
func (r *Recorder) RecordMemory(kind string) {
	if r == nil {
		return
	}
	r.memoriesRecorded.WithLabelValues(kind).Inc()
}

// RecordRetrieval records one ranked retrieval.
func (r *Recorder) RecordRetrieval(latency time.Duration) {
	if r == nil {
		return
	}
	r.retrievals.Inc()
	r.retrievalLatency.Observe(latency.Seconds())
}

// RecordReflection records the end of a reflection run.
func (r *Recorder) RecordReflection(persisted, failed int, err error) {
	if r == nil {
		return
	}
	status := "success"
	switch {
	case err != nil:
		status = "error"
	case failed > 0:
		status = "partial"
	}
	r.reflections.WithLabelValues(status).Inc()
	r.insightsPersisted.Add(float64(persisted))
	r.insightPersistFailed.Add(float64(failed))
}

// Handler returns the HTTP handler for the metrics endpoint.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}
