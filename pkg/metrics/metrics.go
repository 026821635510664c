// Package metrics exposes the Prometheus metrics of histfetch.
// All metrics are defined in their respective packages (transport, batch,
// cache, client) and registered via promauto with the default registry.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry is the default Prometheus registry used by histfetch.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects the metrics registered with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Serving metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// Metrics Documentation
//
// Transport Metrics (pkg/transport):
//   - histfetch_requests_total{status} (Counter): Table requests by HTTP status ("error" when no response)
//   - histfetch_request_duration_seconds (Histogram): Table request duration
//   - histfetch_transport_errors_total (Counter): Requests that produced no response
//   - histfetch_singleflight_shared_total (Counter): Memoized requests served by a concurrent identical request
//
// Batch Metrics (pkg/batch):
//   - histfetch_batch_pending (Gauge): Queued queries not yet taken by a run
//   - histfetch_batch_in_flight (Gauge): Requests currently in flight
//   - histfetch_batch_runs_total{result} (Counter): Runs by result (success, failed, cancelled)
//   - histfetch_batch_run_duration_seconds (Histogram): Run duration
//   - histfetch_batch_abandoned_total (Counter): Queries never completed because the run stopped
//   - histfetch_outcomes_total{outcome} (Counter): Completions by outcome (success, not_found, protocol_error, transport_error, cancelled)
//
// Cache Metrics (pkg/cache):
//   - histfetch_cache_hits_total{layer} (Counter): Cache hits by layer (memory, redis)
//   - histfetch_cache_misses_total{layer} (Counter): Cache misses by layer
//   - histfetch_cache_entries{layer} (Gauge): Entries held by the memory layer
//   - histfetch_cache_errors_total{operation} (Counter): Cache operation errors
//
// Client Metrics (pkg/client):
//   - histfetch_errors_total{class} (Counter): Failures reported by RunAll by class (not_found, protocol, transport)
//
// Example Prometheus Queries:
//
//   # Not-found rate
//   rate(histfetch_outcomes_total{outcome="not_found"}[5m]) / rate(histfetch_outcomes_total[5m])
//
//   # Memoization hit rate
//   sum(rate(histfetch_cache_hits_total[5m])) /
//   (sum(rate(histfetch_cache_hits_total[5m])) + sum(rate(histfetch_cache_misses_total[5m])))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(histfetch_request_duration_seconds_bucket[5m]))
