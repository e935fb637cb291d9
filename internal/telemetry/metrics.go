package telemetry

import "github.com/prometheus/client_golang/prometheus"

// HTTPRequestDuration tracks HTTP request latency by route template,
// method and status. Shared across all middleware-wrapped routes.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "ragserver",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// RequestsTotal counts every request, by method, route, status and tier.
var RequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ragserver",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	},
	[]string{"method", "path", "status", "tier"},
)

// RateLimitRejectionsTotal counts admission rejections by reason.
var RateLimitRejectionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ragserver",
		Subsystem: "ratelimit",
		Name:      "rejections_total",
		Help:      "Total number of requests rejected at admission, by reason.",
	},
	[]string{"reason", "tier"},
)

// CacheHitsTotal / CacheMissesTotal track cache coordinator hit ratio.
var CacheHitsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ragserver",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total number of cache hits, by cache name.",
	},
	[]string{"cache"},
)

var CacheMissesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ragserver",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total number of cache misses, by cache name.",
	},
	[]string{"cache"},
)

// QAQueriesTotal counts fixed-QA similarity queries and their outcome.
var QAQueriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ragserver",
		Subsystem: "qa",
		Name:      "queries_total",
		Help:      "Total number of fixed-QA similarity queries, by outcome.",
	},
	[]string{"found"},
)

// SafetyRejectionsTotal counts intent-engine safety rejections by level.
var SafetyRejectionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ragserver",
		Subsystem: "intent",
		Name:      "safety_rejections_total",
		Help:      "Total number of queries rejected by the safety gate, by level.",
	},
	[]string{"level"},
)

// RetrievalDuration tracks per-mode retrieval latency.
var RetrievalDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "ragserver",
		Subsystem: "retrieval",
		Name:      "duration_seconds",
		Help:      "Retrieval engine query duration in seconds, by mode.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"mode"},
)

// All returns every service-specific collector for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		RequestsTotal,
		RateLimitRejectionsTotal,
		CacheHitsTotal,
		CacheMissesTotal,
		QAQueriesTotal,
		SafetyRejectionsTotal,
		RetrievalDuration,
	}
}
