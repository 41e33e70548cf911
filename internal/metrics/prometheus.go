package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the chat cache layer
type Metrics struct {
	// Conversation cache metrics
	ConversationHitsTotal      prometheus.Counter
	ConversationMissesTotal    prometheus.Counter
	ConversationEvictionsTotal prometheus.Counter
	ConversationExpiredTotal   prometheus.Counter
	ConversationSizeBytes      prometheus.Gauge
	ConversationEntriesTotal   prometheus.Gauge

	// Query batcher metrics
	QueryCacheHitsTotal   prometheus.Counter
	QueryCacheMissesTotal prometheus.Counter
	BatchFlushesTotal     prometheus.Counter
	BatchSizeItems        prometheus.Histogram
	QueryDuration         prometheus.Histogram
	SlowQueriesTotal      prometheus.Counter
	QueryTimeoutsTotal    prometheus.Counter

	// Prefetcher metrics
	PrefetchIssuedTotal    prometheus.Counter
	PrefetchHitsTotal      prometheus.Counter
	PrefetchMissesTotal    prometheus.Counter
	PatternsActive         prometheus.Gauge
	PredictiveEntriesTotal prometheus.Gauge

	// Lazy loader metrics
	PageLoadsTotal     prometheus.Counter
	PageCacheHitsTotal prometheus.Counter

	// Durable store metrics
	StoreRequestsTotal *prometheus.CounterVec
	StoreFailuresTotal prometheus.Counter
	StoreDuration      prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(instanceID string) *Metrics {
	labels := prometheus.Labels{"instance_id": instanceID}

	return &Metrics{
		ConversationHitsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "chatcache",
			Subsystem:   "conversation",
			Name:        "hits_total",
			Help:        "Total number of conversation cache hits",
			ConstLabels: labels,
		}),
		ConversationMissesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "chatcache",
			Subsystem:   "conversation",
			Name:        "misses_total",
			Help:        "Total number of conversation cache misses",
			ConstLabels: labels,
		}),
		ConversationEvictionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "chatcache",
			Subsystem:   "conversation",
			Name:        "evictions_total",
			Help:        "Total number of conversation records evicted under LRU pressure",
			ConstLabels: labels,
		}),
		ConversationExpiredTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "chatcache",
			Subsystem:   "conversation",
			Name:        "expired_total",
			Help:        "Total number of conversation records removed by TTL expiry",
			ConstLabels: labels,
		}),
		ConversationSizeBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "chatcache",
			Subsystem:   "conversation",
			Name:        "size_bytes",
			Help:        "Current conversation cache size in bytes",
			ConstLabels: labels,
		}),
		ConversationEntriesTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "chatcache",
			Subsystem:   "conversation",
			Name:        "entries_total",
			Help:        "Current number of conversation records in cache",
			ConstLabels: labels,
		}),

		QueryCacheHitsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "chatcache",
			Subsystem:   "batcher",
			Name:        "cache_hits_total",
			Help:        "Total number of query result cache hits",
			ConstLabels: labels,
		}),
		QueryCacheMissesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "chatcache",
			Subsystem:   "batcher",
			Name:        "cache_misses_total",
			Help:        "Total number of query result cache misses",
			ConstLabels: labels,
		}),
		BatchFlushesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "chatcache",
			Subsystem:   "batcher",
			Name:        "flushes_total",
			Help:        "Total number of batch flushes",
			ConstLabels: labels,
		}),
		BatchSizeItems: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "chatcache",
			Subsystem:   "batcher",
			Name:        "batch_size_items",
			Help:        "Histogram of flushed batch sizes",
			ConstLabels: labels,
			Buckets:     prometheus.LinearBuckets(1, 2, 10),
		}),
		QueryDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "chatcache",
			Subsystem:   "batcher",
			Name:        "query_duration_seconds",
			Help:        "Histogram of batched query durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		SlowQueriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "chatcache",
			Subsystem:   "batcher",
			Name:        "slow_queries_total",
			Help:        "Total number of queries exceeding the slow query threshold",
			ConstLabels: labels,
		}),
		QueryTimeoutsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "chatcache",
			Subsystem:   "batcher",
			Name:        "timeouts_total",
			Help:        "Total number of batched queries that exceeded their deadline",
			ConstLabels: labels,
		}),

		PrefetchIssuedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "chatcache",
			Subsystem:   "prefetch",
			Name:        "issued_total",
			Help:        "Total number of speculative prefetch queries issued",
			ConstLabels: labels,
		}),
		PrefetchHitsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "chatcache",
			Subsystem:   "prefetch",
			Name:        "hits_total",
			Help:        "Total number of predictive cache hits",
			ConstLabels: labels,
		}),
		PrefetchMissesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "chatcache",
			Subsystem:   "prefetch",
			Name:        "misses_total",
			Help:        "Total number of predictive cache misses",
			ConstLabels: labels,
		}),
		PatternsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "chatcache",
			Subsystem:   "prefetch",
			Name:        "patterns_active",
			Help:        "Current number of mined user patterns",
			ConstLabels: labels,
		}),
		PredictiveEntriesTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "chatcache",
			Subsystem:   "prefetch",
			Name:        "entries_total",
			Help:        "Current number of entries in the predictive cache",
			ConstLabels: labels,
		}),

		PageLoadsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "chatcache",
			Subsystem:   "loader",
			Name:        "page_loads_total",
			Help:        "Total number of history pages fetched from the durable store",
			ConstLabels: labels,
		}),
		PageCacheHitsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "chatcache",
			Subsystem:   "loader",
			Name:        "page_cache_hits_total",
			Help:        "Total number of history pages served from the page cache",
			ConstLabels: labels,
		}),

		StoreRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "chatcache",
			Subsystem:   "store",
			Name:        "requests_total",
			Help:        "Total number of durable store requests by operation",
			ConstLabels: labels,
		}, []string{"operation"}),
		StoreFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "chatcache",
			Subsystem:   "store",
			Name:        "failures_total",
			Help:        "Total number of failed durable store requests",
			ConstLabels: labels,
		}),
		StoreDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "chatcache",
			Subsystem:   "store",
			Name:        "request_duration_seconds",
			Help:        "Histogram of durable store request durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
	}
}
