package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var decisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "txgate_ratelimit_decisions_total",
		Help: "Total number of rate limit decisions",
	},
	[]string{"result"},
)

func metricDecision(allowed bool) {
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	decisionsTotal.WithLabelValues(result).Inc()
}
