package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txgate_cache_hits_total",
		Help: "Total number of cache hits.",
	}, []string{"backend"})

	cacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txgate_cache_misses_total",
		Help: "Total number of cache misses.",
	}, []string{"backend"})

	cacheEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txgate_cache_evictions_total",
		Help: "Total number of cache evictions.",
	}, []string{"backend"})

	cacheSizeGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "txgate_cache_entries",
		Help: "Current number of cache entries.",
	}, []string{"backend"})

	cacheOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "txgate_cache_operation_duration_seconds",
		Help:    "Duration of cache operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend", "operation"})

	cacheComputationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txgate_cache_computations_total",
		Help: "Total number of origin computations triggered by cache misses.",
	}, []string{"result"})

	cacheFlightWaitersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "txgate_cache_flight_waiters_total",
		Help: "Total number of callers that waited on an in-flight computation.",
	})

	cacheInvalidationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "txgate_cache_invalidations_total",
		Help: "Total number of cache invalidations.",
	})

	cacheAdaptiveTTL = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "txgate_cache_adaptive_ttl_seconds",
		Help:    "TTL assigned to cached entries by the adaptive policy.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})
)
