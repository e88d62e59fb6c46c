package waf

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var decisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "txgate_waf_decisions_total",
		Help: "Total number of WAF decisions",
	},
	[]string{"action", "category"},
)

func metricDecision(action, category string) {
	if category == "" {
		category = "none"
	}
	decisionsTotal.WithLabelValues(action, category).Inc()
}
