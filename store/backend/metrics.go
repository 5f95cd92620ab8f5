package backend

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache lookup results.
const (
	lookupHit     = "hit"
	lookupMiss    = "miss"
	lookupExpired = "expired"
	lookupError   = "error"
)

// Metrics holds the Prometheus metrics of a backend.
type Metrics struct {
	registry *prometheus.Registry

	CacheLookups  *prometheus.CounterVec
	DegradedReads *prometheus.CounterVec
	StoreErrors   *prometheus.CounterVec
	StoreDuration *prometheus.HistogramVec
	CacheErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance registered on its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "dualstore"
	}

	registry := prometheus.NewRegistry()

	cacheLookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by result (hit, miss, expired, error)",
		},
		[]string{"result"},
	)

	degradedReads := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_reads_total",
			Help:      "Reads served from an expired cache entry because the store was unreachable",
		},
		[]string{"kind"},
	)

	storeErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Durable store calls that failed",
		},
		[]string{"op", "reason"},
	)

	storeDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_call_duration_seconds",
			Help:      "Durable store call duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"op"},
	)

	cacheErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_errors_total",
			Help:      "Cache calls that failed",
		},
		[]string{"op"},
	)

	registry.MustRegister(
		cacheLookups,
		degradedReads,
		storeErrors,
		storeDuration,
		cacheErrors,
	)

	return &Metrics{
		registry:      registry,
		CacheLookups:  cacheLookups,
		DegradedReads: degradedReads,
		StoreErrors:   storeErrors,
		StoreDuration: storeDuration,
		CacheErrors:   cacheErrors,
	}
}

// Registry returns the registry the metrics are registered on, so callers can add their
// own collectors to the same exposition.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) recordLookup(result string) {
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) recordDegraded(kind string) {
	m.DegradedReads.WithLabelValues(kind).Inc()
}

func (m *Metrics) recordStoreCall(op string, duration time.Duration) {
	m.StoreDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *Metrics) recordStoreError(op, reason string) {
	m.StoreErrors.WithLabelValues(op, reason).Inc()
}

func (m *Metrics) recordCacheError(op string) {
	m.CacheErrors.WithLabelValues(op).Inc()
}
