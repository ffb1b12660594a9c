package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	mutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "koi_gateway",
			Subsystem: "mutation",
			Name:      "total",
			Help:      "Mutations dispatched, by flow and outcome.",
		},
		[]string{"flow", "outcome"},
	)
	mutationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "koi_gateway",
			Subsystem: "mutation",
			Name:      "duration_seconds",
			Help:      "Mutation duration from dispatch to invalidation.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"flow", "outcome"},
	)
	compensations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "koi_gateway",
			Subsystem: "saga",
			Name:      "compensations_total",
			Help:      "Compensating actions run, by outcome.",
		},
		[]string{"outcome"},
	)
	cacheInvalidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "koi_gateway",
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Cache entries marked stale, by source.",
		},
		[]string{"source"},
	)
	cacheFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "koi_gateway",
			Subsystem: "cache",
			Name:      "fetches_total",
			Help:      "Remote fetches issued by the query cache.",
		},
		[]string{"root", "stored"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "koi_gateway",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "koi_gateway",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(mutations, mutationDuration, compensations, cacheInvalidations,
			cacheFetches, httpRequests, httpDuration)
	})
}

func RecordMutation(flow, outcome string, duration time.Duration) {
	RegisterMetrics()
	mutations.WithLabelValues(flow, outcome).Inc()
	mutationDuration.WithLabelValues(flow, outcome).Observe(duration.Seconds())
}

func RecordCompensation(outcome string) {
	RegisterMetrics()
	compensations.WithLabelValues(outcome).Inc()
}

func RecordCacheInvalidation(source string, count int) {
	if count <= 0 {
		return
	}
	RegisterMetrics()
	cacheInvalidations.WithLabelValues(source).Add(float64(count))
}

func RecordCacheFetch(root string, stored bool) {
	RegisterMetrics()
	cacheFetches.WithLabelValues(root, strconv.FormatBool(stored)).Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
