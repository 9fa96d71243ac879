package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation outcomes used as metric labels.
const (
	outcomeChanged   = "changed"
	outcomeUnchanged = "unchanged"
	outcomeRejected  = "rejected"
)

// Merge results used as metric labels.
const (
	mergeReplaced  = "replaced"
	mergeFetched   = "fetched"
	mergeFailed    = "failed"
	mergeDiscarded = "discarded"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "basket_operations_total",
			Help: "Collection operations applied to the in-memory collection",
		},
		[]string{"collection", "operation", "outcome"},
	)

	remoteSyncFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "basket_remote_sync_failures_total",
			Help: "Background calls to the collection service that failed",
		},
		[]string{"collection", "operation"},
	)

	mergesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "basket_merges_total",
			Help: "Login merges by result",
		},
		[]string{"collection", "result"},
	)

	inFlightTasks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "basket_remote_tasks_in_flight",
			Help: "Detached persistence tasks not yet finished",
		},
		[]string{"collection"},
	)
)
