package embedding

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric status label values.
const (
	statusSuccess = "success"
	statusError   = "error"
)

var (
	embeddingRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spyglass_embedding_requests_total",
		Help: "Total embedding requests by provider and outcome.",
	}, []string{"provider", "status"})

	embeddingLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spyglass_embedding_request_duration_seconds",
		Help:    "Embedding request latency by provider.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

	embeddingFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spyglass_embedding_fallbacks_total",
		Help: "Total fallbacks from one embedding provider to another.",
	}, []string{"from_provider", "to_provider"})

	embeddingProviderAvailable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "spyglass_embedding_provider_available",
		Help: "Whether an embedding provider is currently usable (1) or not (0).",
	}, []string{"provider"})

	embeddingQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spyglass_embedding_queue_depth",
		Help: "Number of queued embedding jobs awaiting a worker tick.",
	})
)

// recordEmbeddingRequest records an embedding request outcome.
func recordEmbeddingRequest(provider ProviderName, success bool) {
	status := statusSuccess
	if !success {
		status = statusError
	}

	embeddingRequests.WithLabelValues(string(provider), status).Inc()
}

// recordEmbeddingLatency records embedding request latency.
func recordEmbeddingLatency(provider ProviderName, duration time.Duration) {
	embeddingLatency.WithLabelValues(string(provider)).Observe(duration.Seconds())
}

// recordEmbeddingFallback records a fallback from one provider to another.
func recordEmbeddingFallback(from, to ProviderName) {
	embeddingFallbacks.WithLabelValues(string(from), string(to)).Inc()
}

// setEmbeddingProviderAvailable sets the availability gauge for a provider.
func setEmbeddingProviderAvailable(provider ProviderName, available bool) {
	value := 0.0
	if available {
		value = 1.0
	}

	embeddingProviderAvailable.WithLabelValues(string(provider)).Set(value)
}

// SetEmbeddingQueueDepth publishes the current size of the pending embedding
// job backlog. The embedding worker does not call it; the gauge reports
// only what a caller sets.
func SetEmbeddingQueueDepth(depth int) {
	embeddingQueueDepth.Set(float64(depth))
}
