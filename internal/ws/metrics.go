package ws

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	wsConnectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "txgate_ws_subscribers",
		Help: "Current number of connected WebSocket subscribers.",
	})

	wsMessagesSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "txgate_ws_messages_sent_total",
		Help: "Total number of transaction messages queued to subscribers.",
	})
)
