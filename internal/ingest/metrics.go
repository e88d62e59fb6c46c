package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ingestProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txgate_ingest_events_total",
		Help: "Total number of ingest events by outcome.",
	}, []string{"result"})

	ingestReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "txgate_ingest_reconnects_total",
		Help: "Total number of broker reconnect attempts.",
	})
)
