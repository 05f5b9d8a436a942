package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "casegen",
		Subsystem: "workflow",
		Name:      "transitions_total",
		Help:      "Committed workflow transitions.",
	}, []string{"from", "to"})

	failuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "casegen",
		Subsystem: "workflow",
		Name:      "failures_total",
		Help:      "Workflow operations that ended in an error, by kind.",
	}, []string{"op", "kind"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "casegen",
		Subsystem: "workflow",
		Name:      "operation_duration_seconds",
		Help:      "Duration of workflow operations that call external services.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"op"})

	activeRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "casegen",
		Subsystem: "workflow",
		Name:      "active_runs",
		Help:      "Workflow runs currently held in memory.",
	})
)
