// Package metrics exposes the Prometheus registry used by the batch fetcher.
// Collectors are defined in their own packages (ratelimit, client, batch, spool)
// and registered through promauto on the default registerer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the batch fetcher.
var Registry = prometheus.DefaultRegisterer

// Handler serves every collector registered on the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Rate Limiter Metrics (pkg/ratelimit):
//   - batchfetch_ratelimit_permits_total (Counter): Permits granted
//   - batchfetch_ratelimit_wait_seconds (Histogram): Time spent waiting for a permit
//
// HTTP Metrics (pkg/client):
//   - batchfetch_http_requests_total{method, status} (Counter): Requests by method and status
//   - batchfetch_http_request_duration_seconds{method} (Histogram): Request duration
//   - batchfetch_http_sessions_open (Gauge): Sessions currently open
//
// Batch Metrics (pkg/batch):
//   - batchfetch_batches_total (Counter): Batches run
//   - batchfetch_batch_duration_seconds (Histogram): Batch wall-clock duration
//   - batchfetch_outcomes_total{result} (Counter): Outcomes by success/failure
//   - batchfetch_failures_total{kind, reason} (Counter): Failures by kind (transport, parse, application)
//   - batchfetch_retries_total (Counter): Descriptors resubmitted by FetchAllWithRetry
//   - batchfetch_retry_backoff_seconds (Histogram): Backoff between retry rounds
//   - batchfetch_retry_exhausted_total (Counter): Descriptors still failing after the last attempt
//
// Spool Metrics (pkg/spool):
//   - batchfetch_spool_pushed_total (Counter): Failures pushed to Redis
//   - batchfetch_spool_popped_total (Counter): Descriptors popped from Redis
//   - batchfetch_spool_errors_total{operation} (Counter): Spool errors by operation
//
// Example Prometheus Queries:
//
//   # Failure ratio
//   sum(rate(batchfetch_outcomes_total{result="failure"}[5m])) /
//   sum(rate(batchfetch_outcomes_total[5m]))
//
//   # Transport failures by reason
//   sum by (reason) (rate(batchfetch_failures_total{kind="transport"}[5m]))
//
//   # P95 permit wait
//   histogram_quantile(0.95, rate(batchfetch_ratelimit_wait_seconds_bucket[5m]))
