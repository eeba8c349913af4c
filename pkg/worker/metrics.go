package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the worker lifecycle.
var (
	stateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campus_worker_state_transitions_total",
		Help: "Worker lifecycle transitions by target state",
	}, []string{"state"})

	rpcTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campus_rpc_total",
		Help: "Messages handled by the worker by command and result",
	}, []string{"command", "result"}) // result: "ok", "error"

	precacheRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campus_precache_retries_total",
		Help: "Total number of precache fetch retries",
	})

	precacheRetryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "campus_precache_retry_backoff_seconds",
		Help:    "Backoff duration before precache retries",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5},
	})
)
