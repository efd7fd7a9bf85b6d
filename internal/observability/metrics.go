// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Routing metrics
	RouteResolutions *prometheus.CounterVec // labels: route, reason
	RouteCacheHits   prometheus.Counter
	RouteCacheMisses prometheus.Counter
	DedupeJoins      prometheus.Counter

	// Build metrics
	BuildsTotal    *prometheus.CounterVec // labels: route, result
	CurveFallbacks prometheus.Counter
	FeeResolutions *prometheus.CounterVec // labels: status

	// Security metrics
	VerdictsTotal *prometheus.CounterVec // labels: safe

	// Broadcast metrics
	SendsTotal   *prometheus.CounterVec // labels: destination, result
	SendLatency  *prometheus.HistogramVec
	AlreadySeen  prometheus.Counter
	Rebroadcasts prometheus.Counter

	// Confirmation metrics
	ConfirmOutcomes *prometheus.CounterVec // labels: outcome
	ConfirmLatency  prometheus.Histogram

	// Upstream metrics
	UpstreamLatency *prometheus.HistogramVec // labels: upstream, call
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "swap_engine"
	}

	return &Metrics{
		RouteResolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "resolutions_total",
			Help:      "Route resolutions by chosen route and none-reason",
		}, []string{"route", "reason"}),
		RouteCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "cache_hits_total",
			Help:      "Route decisions served from cache",
		}),
		RouteCacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "cache_misses_total",
			Help:      "Route resolutions that missed the cache",
		}),
		DedupeJoins: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "dedupe_joins_total",
			Help:      "Callers that joined an in-flight detection instead of issuing one",
		}),
		BuildsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "builder",
			Name:      "builds_total",
			Help:      "Transaction builds by route and result",
		}, []string{"route", "result"}),
		CurveFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "builder",
			Name:      "curve_fallbacks_total",
			Help:      "Curve builds that fell back to the aggregator",
		}),
		FeeResolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "builder",
			Name:      "fee_resolutions_total",
			Help:      "Platform fee resolutions by status",
		}, []string{"status"}),
		VerdictsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "security",
			Name:      "verdicts_total",
			Help:      "Security verdicts by safety",
		}, []string{"safe"}),
		SendsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "sends_total",
			Help:      "Broadcast attempts by destination and result",
		}, []string{"destination", "result"}),
		SendLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "send_latency_seconds",
			Help:      "Broadcast latency by destination",
			Buckets:   prometheus.DefBuckets,
		}, []string{"destination"}),
		AlreadySeen: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "already_processed_total",
			Help:      "Sends answered with already-processed, resolved locally",
		}),
		Rebroadcasts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "confirm",
			Name:      "rebroadcasts_total",
			Help:      "Rebroadcasts piggybacked on poll ticks",
		}),
		ConfirmOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "confirm",
			Name:      "outcomes_total",
			Help:      "Confirmation outcomes",
		}, []string{"outcome"}),
		ConfirmLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "confirm",
			Name:      "latency_seconds",
			Help:      "Wall time until a definitive confirmation outcome",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 90},
		}),
		UpstreamLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "call_latency_seconds",
			Help:      "Upstream call latency by upstream and call",
			Buckets:   prometheus.DefBuckets,
		}, []string{"upstream", "call"}),
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
