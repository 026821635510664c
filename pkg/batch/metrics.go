package batch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for batch scheduling.
var (
	pendingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "histfetch_batch_pending",
		Help: "Queries queued and not yet taken by a run",
	})

	inFlightGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "histfetch_batch_in_flight",
		Help: "Table requests currently in flight",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "histfetch_batch_runs_total",
		Help: "Total batch runs by result",
	}, []string{"result"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "histfetch_batch_run_duration_seconds",
		Help:    "Batch run duration in seconds",
		Buckets: []float64{0.5, 1, 5, 10, 30, 60, 300},
	})

	abandonedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "histfetch_batch_abandoned_total",
		Help: "Total queued queries never started because their run failed",
	})

	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "histfetch_outcomes_total",
		Help: "Total request outcomes by classification",
	}, []string{"outcome"})
)
