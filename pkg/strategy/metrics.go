package strategy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for strategy execution.
var (
	strategyResponsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campus_strategy_responses_total",
		Help: "Responses produced by each caching strategy, by source",
	}, []string{"strategy", "source"}) // source: "cache", "network", "offline"

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "campus_fetch_duration_seconds",
		Help:    "Origin fetch duration in seconds by request label",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 3, 10},
	}, []string{"label"})
)

// Response sources.
const (
	sourceCache   = "cache"
	sourceNetwork = "network"
	sourceOffline = "offline"
)
