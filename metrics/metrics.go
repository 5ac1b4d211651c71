// Package metrics holds the Prometheus collectors for the analysis and
// recommendation pipelines. Collectors are registered on the default registry
// and exposed on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Analysis pipeline
	AnalysisTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skin_analysis_total",
			Help: "Skin analyses by outcome",
		},
		[]string{"outcome"},
	)

	AnalysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "skin_analysis_duration_seconds",
			Help:    "End-to-end skin analysis latency",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	ModelInferenceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "model_inference_duration_seconds",
			Help:    "Per-model inference latency",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"model"},
	)

	ModelInferenceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_inference_errors_total",
			Help: "Per-model inference failures",
		},
		[]string{"model"},
	)

	ModelLoaded = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "model_loaded",
			Help: "Whether a model handle is present (1) or absent (0)",
		},
		[]string{"model"},
	)

	ModelDegraded = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "model_degraded",
			Help: "Whether a model is served by an untrained fallback",
		},
		[]string{"model"},
	)

	ModelReloads = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "model_reloads_total",
			Help: "Number of model reloads",
		},
	)

	// Retrieval pipeline
	RetrievalStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retrieval_stage_duration_seconds",
			Help:    "Latency of recommendation stages",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 10, 30},
		},
		[]string{"stage"},
	)

	RetrievalCategorySkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retrieval_category_skipped_total",
			Help: "Categories skipped during retrieval",
		},
		[]string{"category", "reason"},
	)

	GenerationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_failures_total",
			Help: "Text generation failures by reason",
		},
		[]string{"reason"},
	)

	EmbeddingCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedding_cache_hits_total",
			Help: "Embedding cache hits by tier",
		},
		[]string{"tier"},
	)

	EmbeddingCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "embedding_cache_misses_total",
			Help: "Embedding cache misses",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Transport
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "API requests by transport, endpoint and status",
		},
		[]string{"transport", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request latency",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		},
		[]string{"transport", "endpoint"},
	)
)

// RecordAnalysis records one orchestrator run.
func RecordAnalysis(success bool, d time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	AnalysisTotal.WithLabelValues(outcome).Inc()
	AnalysisDuration.Observe(d.Seconds())
}

// RecordInference records a single model invocation.
func RecordInference(model string, d time.Duration, err error) {
	ModelInferenceDuration.WithLabelValues(model).Observe(d.Seconds())
	if err != nil {
		ModelInferenceErrors.WithLabelValues(model).Inc()
	}
}

// SetModelStatus publishes the presence and degradation of a model handle.
func SetModelStatus(model string, present, degraded bool) {
	ModelLoaded.WithLabelValues(model).Set(boolToFloat(present))
	ModelDegraded.WithLabelValues(model).Set(boolToFloat(degraded))
}

// RecordStage records the latency of one retrieval stage (embed, search, generate).
func RecordStage(stage string, d time.Duration) {
	RetrievalStageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordCircuitBreakerTransition updates the state gauge and transition counter.
func RecordCircuitBreakerTransition(name, from, to string) {
	CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
	CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
}

// RecordAPIRequest records one REST or gRPC call.
func RecordAPIRequest(transport, endpoint, status string, d time.Duration) {
	APIRequestsTotal.WithLabelValues(transport, endpoint, status).Inc()
	APIRequestDuration.WithLabelValues(transport, endpoint).Observe(d.Seconds())
}

func breakerStateValue(state string) float64 {
	switch state {
	case "open":
		return 1
	case "half-open":
		return 2
	default:
		return 0
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
