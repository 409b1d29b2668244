// Package metrics holds the Prometheus collectors of the fingerprint
// pipeline, the store and the HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Fingerprint build metrics
// =============================================================================

var (
	// FingerprintsBuiltTotal counts fingerprints built, by backend
	FingerprintsBuiltTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photofp_fingerprints_built_total",
			Help: "Total number of fingerprints built",
		},
		[]string{"backend"},
	)

	// FingerprintBuildDurationSeconds measures build latency, by backend
	FingerprintBuildDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photofp_fingerprint_build_duration_seconds",
			Help:    "Latency of fingerprint builds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"backend"},
	)

	// PixelsProcessedTotal counts pixels fed to any builder
	PixelsProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photofp_pixels_processed_total",
			Help: "Total number of pixels fingerprinted",
		},
	)

	// BackendFallbacksTotal counts GPU builds answered by the CPU builder
	BackendFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photofp_backend_fallbacks_total",
			Help: "Total number of GPU builds that fell back to the CPU",
		},
		[]string{"backend", "reason"},
	)

	// KernelDispatchThreads records launched threads per dispatch
	KernelDispatchThreads = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "photofp_kernel_dispatch_threads",
			Help:    "Threads launched per kernel dispatch",
			Buckets: prometheus.ExponentialBuckets(256, 4, 10),
		},
	)
)

// =============================================================================
// Similarity & index metrics
// =============================================================================

var (
	// SimilarityComparisonsTotal counts pairwise similarity scores computed
	SimilarityComparisonsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photofp_similarity_comparisons_total",
			Help: "Total number of similarity scores computed",
		},
	)

	// IndexSize tracks the number of fingerprints in the search index
	IndexSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photofp_index_size",
			Help: "Number of fingerprints in the search index",
		},
	)

	// IndexCandidates records candidates scored per search
	IndexCandidates = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "photofp_index_candidates",
			Help:    "Candidates scored per search",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
	)
)

// =============================================================================
// Store & server metrics
// =============================================================================

var (
	// StoreOpsTotal counts store operations
	StoreOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photofp_store_ops_total",
			Help: "Total number of store operations",
		},
		[]string{"store", "op", "status"},
	)

	// HTTPRequestsTotal counts HTTP requests handled
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photofp_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	// HTTPRequestDurationSeconds measures HTTP latency
	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photofp_http_request_duration_seconds",
			Help:    "Latency of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// RateLimitedTotal counts requests rejected by the rate limiter
	RateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photofp_http_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)

	// FingerprintCacheTotal counts cache lookups by result (hit, miss)
	FingerprintCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photofp_fingerprint_cache_total",
			Help: "Fingerprint cache lookups",
		},
		[]string{"result"},
	)

	// JobsTotal counts index jobs by final state
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photofp_jobs_total",
			Help: "Total number of index jobs by final state",
		},
		[]string{"state"},
	)
)

// StoreOp records the outcome of one store operation.
func StoreOp(store, op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	StoreOpsTotal.WithLabelValues(store, op, status).Inc()
}
