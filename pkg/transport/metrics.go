package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for table requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "histfetch_requests_total",
		Help: "Total table requests by HTTP status",
	}, []string{"status"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "histfetch_request_duration_seconds",
		Help:    "Table request duration in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	transportErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "histfetch_transport_errors_total",
		Help: "Total table requests that produced no response",
	})

	singleflightShared = promauto.NewCounter(prometheus.CounterOpts{
		Name: "histfetch_singleflight_shared_total",
		Help: "Total memoized requests served by a concurrent identical request",
	})
)
