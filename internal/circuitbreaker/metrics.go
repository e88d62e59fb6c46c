package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "txgate_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=open, 2=half-open)",
		},
		[]string{"dependency"},
	)

	breakerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txgate_circuit_breaker_requests_total",
			Help: "Total number of calls through circuit breakers",
		},
		[]string{"dependency", "result"},
	)

	breakerFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txgate_circuit_breaker_failures_total",
			Help: "Total number of failures recorded by circuit breakers",
		},
		[]string{"dependency"},
	)

	breakerSuccessesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txgate_circuit_breaker_successes_total",
			Help: "Total number of successes recorded by circuit breakers",
		},
		[]string{"dependency"},
	)

	breakerStateChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txgate_circuit_breaker_state_changes_total",
			Help: "Total number of circuit breaker state changes",
		},
		[]string{"dependency", "from", "to"},
	)
)

func recordRequest(name string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	breakerRequestsTotal.WithLabelValues(name, result).Inc()
}

func recordFailure(name string) {
	breakerFailuresTotal.WithLabelValues(name).Inc()
}

func recordSuccess(name string) {
	breakerSuccessesTotal.WithLabelValues(name).Inc()
}

func recordStateChange(name string, from, to State) {
	breakerStateChangesTotal.WithLabelValues(name, from.String(), to.String()).Inc()
	breakerState.WithLabelValues(name).Set(float64(to))
}
