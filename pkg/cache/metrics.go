package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by store role
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campus_cache_hits_total",
			Help: "Total number of offline cache hits",
		},
		[]string{"store"}, // "static", "data"
	)

	// CacheMisses tracks cache misses by store role
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campus_cache_misses_total",
			Help: "Total number of offline cache misses",
		},
		[]string{"store"},
	)

	// CacheErrors tracks storage operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campus_cache_errors_total",
			Help: "Total number of cache storage operation errors",
		},
		[]string{"operation"}, // "open", "get", "set", "delete", "delete_cache", "keys", "size", "names", "has"
	)
)
