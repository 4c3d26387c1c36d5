package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheLookups counts cache table lookups by table and result ("hit" or "miss")
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrobblarr_cache_lookups_total",
			Help: "Total number of cache table lookups",
		},
		[]string{"table", "result"},
	)

	// CacheFlushes counts cache flushes by backend and result ("success" or "failure")
	CacheFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrobblarr_cache_flushes_total",
			Help: "Total number of cache table flushes",
		},
		[]string{"backend", "result"},
	)

	// HistoryItemsLoaded counts history items loaded by provider and origin ("cache" or "converted")
	HistoryItemsLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrobblarr_history_items_loaded_total",
			Help: "Total number of history items produced by the history loader",
		},
		[]string{"provider", "origin"},
	)

	// CatalogMatches counts catalog lookups by path ("cache", "correction", "search") and result
	CatalogMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrobblarr_catalog_matches_total",
			Help: "Total number of catalog match lookups",
		},
		[]string{"path", "result"},
	)

	// CommitItems counts committed items by media type and result ("added" or "not_found")
	CommitItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrobblarr_commit_items_total",
			Help: "Total number of items submitted to the remote history",
		},
		[]string{"type", "result"},
	)

	// AutoSyncPasses counts auto-sync passes by provider and outcome ("success", "failed", "canceled")
	AutoSyncPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrobblarr_autosync_passes_total",
			Help: "Total number of auto-sync passes",
		},
		[]string{"provider", "outcome"},
	)

	// TraktRequests counts Trakt API requests by method and outcome
	TraktRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrobblarr_trakt_requests_total",
			Help: "Total number of Trakt API requests",
		},
		[]string{"method", "outcome"},
	)

	// TraktBreakerState tracks the Trakt circuit breaker state (0 closed, 1 half-open, 2 open)
	TraktBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scrobblarr_trakt_breaker_state",
			Help: "Current state of the Trakt API circuit breaker",
		},
	)
)
