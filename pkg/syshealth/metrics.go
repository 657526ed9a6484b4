package syshealth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	healthScore = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nexus",
		Subsystem: "system",
		Name:      "health_score",
		Help:      "System health score (0-100).",
	})

	readings = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "nexus",
		Subsystem: "system",
		Name:      "utilization_percent",
		Help:      "Resource utilization by resource.",
	}, []string{"resource"})

	throttledBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "system",
		Name:      "throttled_batches_total",
		Help:      "Worker batches shrunk because of system pressure.",
	}, []string{"worker", "zone"})
)
