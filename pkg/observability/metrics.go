package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics for the application
type Collector struct {
	// Registry for this collector instance
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// State store metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	BlobFetches prometheus.Counter

	// Sync engine metrics
	TransactionsApplied prometheus.Counter
	VersionsCreated     prometheus.Counter
	MergeConflicts      prometheus.Counter
	LockTimeouts        prometheus.Counter

	// Event metrics
	EventsPublished *prometheus.CounterVec
}

// NewCollector creates a new metrics collector with the given namespace.
// Each collector owns its registry, so tests can create as many as they
// need without duplicate registration.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	cacheHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_cache_hits_total",
			Help:      "Total number of state cache hits",
		},
	)

	cacheMisses := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_cache_misses_total",
			Help:      "Total number of state cache misses",
		},
	)

	blobFetches := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_blob_fetches_total",
			Help:      "Total number of blob store fetches after singleflight dedup",
		},
	)

	transactionsApplied := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_applied_total",
			Help:      "Total number of canvas transactions applied",
		},
	)

	versionsCreated := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "versions_created_total",
			Help:      "Total number of canvas versions sealed",
		},
	)

	mergeConflicts := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_conflicts_total",
			Help:      "Total number of version merges that surfaced a conflict",
		},
	)

	lockTimeouts := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_timeouts_total",
			Help:      "Total number of canvas lock acquisitions that exhausted retries",
		},
	)

	eventsPublished := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of domain events published",
		},
		[]string{"event_type"},
	)

	registry.MustRegister(
		httpRequests,
		httpDuration,
		cacheHits,
		cacheMisses,
		blobFetches,
		transactionsApplied,
		versionsCreated,
		mergeConflicts,
		lockTimeouts,
		eventsPublished,
	)

	return &Collector{
		registry:            registry,
		HTTPRequests:        httpRequests,
		HTTPDuration:        httpDuration,
		CacheHits:           cacheHits,
		CacheMisses:         cacheMisses,
		BlobFetches:         blobFetches,
		TransactionsApplied: transactionsApplied,
		VersionsCreated:     versionsCreated,
		MergeConflicts:      mergeConflicts,
		LockTimeouts:        lockTimeouts,
		EventsPublished:     eventsPublished,
	}
}

// GetRegistry returns the Prometheus registry for this collector
func (c *Collector) GetRegistry() *prometheus.Registry {
	return c.registry
}
