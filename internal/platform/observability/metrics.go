package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CrawlQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "spyglass_crawl_queue_depth",
		Help: "Number of crawl_queue rows by status",
	}, []string{"status"})

	CrawlDomainInflight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "spyglass_crawl_domain_inflight",
		Help: "Current number of in-flight fetches per domain",
	}, []string{"domain"})

	CrawlFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spyglass_crawl_fetch_duration_seconds",
		Help:    "Duration of a single fetch, from dequeue to response",
		Buckets: prometheus.DefBuckets,
	}, []string{"domain", "status"})

	CrawlFetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spyglass_crawl_fetch_errors_total",
		Help: "Total fetch failures by domain and error class",
	}, []string{"domain", "reason"})

	ExtractionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spyglass_extraction_errors_total",
		Help: "Total parse/extraction failures by content type and reason",
	}, []string{"content_type", "reason"})

	DocumentsIndexed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spyglass_documents_indexed_total",
		Help: "Total documents written to the search index, by source",
	}, []string{"source"})

	// Embedding-provider metrics (requests, latency, queue depth, provider
	// availability) are registered in internal/embedding/metrics.go, next
	// to the code that records them; this package only owns the crawl,
	// extraction, indexing, plugin, and search-side counters.

	PluginRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spyglass_plugin_requests_total",
		Help: "Total plugin host requests by kind and outcome",
	}, []string{"kind", "status"})

	SearchQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spyglass_search_query_duration_seconds",
		Help:    "Duration of a search query, by whether vector re-rank ran",
		Buckets: prometheus.DefBuckets,
	}, []string{"reranked"})
)
