package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txgate_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "txgate_http_request_duration_seconds",
		Help:    "Duration of HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	panicsRecoveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "txgate_http_panics_recovered_total",
		Help: "Total number of panics recovered by the middleware chain.",
	})

	bodyLimitRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "txgate_http_body_limit_rejected_total",
		Help: "Total number of requests rejected for an oversized body.",
	})

	authDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txgate_http_auth_decisions_total",
		Help: "Total number of authentication decisions.",
	}, []string{"result"})
)
