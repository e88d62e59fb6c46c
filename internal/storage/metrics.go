package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storageQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txgate_storage_queries_total",
		Help: "Total number of storage queries.",
	}, []string{"operation", "status"})

	storageQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "txgate_storage_query_duration_seconds",
		Help:    "Duration of storage queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)

func observeQuery(operation string, err error, seconds float64) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	storageQueriesTotal.WithLabelValues(operation, status).Inc()
	storageQueryDuration.WithLabelValues(operation).Observe(seconds)
}
