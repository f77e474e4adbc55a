// Package metrics provides centralized Prometheus metrics access for the harvester.
// All metrics are defined in their respective packages (transport, throttle,
// pagination, aggregate, errorlog) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation, reference and the HTTP handler that
// exposes all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the harvester.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer matching Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler returns an HTTP handler serving every registered metric.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Request Metrics (pkg/transport):
//   - harvest_requests_total{method, status} (Counter): Requests by HTTP method and status
//   - harvest_request_duration_seconds{method} (Histogram): Request duration by method
//
// Retry Metrics (pkg/transport):
//   - harvest_retries_total{error_class} (Counter): Retry attempts by error class
//   - harvest_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - harvest_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Throttle Metrics (pkg/throttle):
//   - harvest_throttle_currently_available (Gauge): Cost points left in the bucket
//   - harvest_throttle_waits_total{reason} (Counter): Waits by reason (cost, fallback, pacing)
//   - harvest_throttle_wait_seconds (Histogram): Throttle wait duration
//
// Pagination Metrics (pkg/pagination):
//   - harvest_pages_total{style, outcome} (Counter): Pages by style and outcome (ok, skipped, failed)
//   - harvest_pagination_run_duration_seconds{style} (Histogram): Duration of complete runs
//
// Result Metrics (pkg/aggregate):
//   - harvest_runs_total{status} (Counter): Runs by final status
//   - harvest_items_total (Counter): Records collected
//   - harvest_user_errors_total (Counter): Records that carried userErrors
//
// Error Log Metrics (pkg/errorlog):
//   - harvest_error_log_entries_total{sink} (Counter): Entries written by sink
//   - harvest_error_log_write_errors_total{sink} (Counter): Failed writes by sink
//
// Example Prometheus Queries:
//
//   # Skipped Page Rate
//   sum(rate(harvest_pages_total{outcome="skipped"}[5m])) / sum(rate(harvest_pages_total[5m]))
//
//   # Bucket Pressure
//   harvest_throttle_currently_available < 100
//
//   # Retry Rate
//   rate(harvest_retries_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(harvest_request_duration_seconds_bucket[5m]))
//
//   # Failed Runs
//   increase(harvest_runs_total{status="failed"}[1h])
