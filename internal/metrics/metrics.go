package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PastesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "burnbin_pastes_created_total",
		Help: "no. of pastes created",
	})
	ViewsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "burnbin_views_consumed_total",
		Help: "no. of successful fetches that consumed a view",
	})
	FetchRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burnbin_fetch_rejected_total",
			Help: "no. of fetches refused, by reason",
		},
		[]string{"reason"},
	)
	TombstoneHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "burnbin_tombstone_hits_total",
		Help: "no. of fetches answered from the expired-id cache",
	})
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burnbin_store_errors_total",
			Help: "no. of storage failures, by operation",
		},
		[]string{"op"},
	)
	JanitorRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "burnbin_janitor_removed_total",
		Help: "no. of records purged by the janitor",
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burnbin_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
