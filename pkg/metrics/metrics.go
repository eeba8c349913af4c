// Package metrics exposes the Prometheus registry shared by the offline
// worker. Metrics are defined next to the code that updates them (cache,
// strategy, worker, bgsync) and registered through promauto.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every package's promauto metrics land in.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer served by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the metrics in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics reference
//
// Cache (pkg/cache):
//   - campus_cache_hits_total{store} (Counter): hits by store role ("static", "data")
//   - campus_cache_misses_total{store} (Counter): misses by store role
//   - campus_cache_errors_total{operation} (Counter): storage backend errors
//
// Strategies (pkg/strategy):
//   - campus_strategy_responses_total{strategy, source} (Counter): responses by
//     strategy and source ("cache", "network", "offline")
//   - campus_fetch_duration_seconds{label} (Histogram): origin fetch latency
//
// Worker (pkg/worker):
//   - campus_worker_state_transitions_total{state} (Counter): lifecycle transitions
//   - campus_rpc_total{command, result} (Counter): handled messages
//   - campus_precache_retries_total (Counter): precache retry attempts
//   - campus_precache_retry_backoff_seconds (Histogram): precache backoff
//
// Background sync (pkg/bgsync):
//   - campus_sync_keys_total{result} (Counter): refreshed keys by result
//
// Example queries:
//
//   # Share of data responses served without the network
//   sum(rate(campus_strategy_responses_total{strategy="network-first",source!="network"}[5m])) /
//   sum(rate(campus_strategy_responses_total{strategy="network-first"}[5m]))
//
//   # Static cache hit rate
//   rate(campus_cache_hits_total{store="static"}[5m]) /
//   (rate(campus_cache_hits_total{store="static"}[5m]) + rate(campus_cache_misses_total{store="static"}[5m]))
//
//   # P95 data fetch latency
//   histogram_quantile(0.95, rate(campus_fetch_duration_seconds_bucket{label="data-api"}[5m]))
