package update

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	modificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xcore_modifications_total",
		Help: "Modifications processed, by kind and outcome.",
	}, []string{"kind", "outcome"})

	nodesModified = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xcore_nodes_modified_total",
		Help: "Nodes edited by modifications, by kind.",
	}, []string{"kind"})

	lockWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "xcore_lock_wait_seconds",
		Help:    "Time spent waiting for the global and document locks.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
	}, []string{"lock"})

	defragmentations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xcore_defragmentations_total",
		Help: "Documents defragmented after exceeding the split limit.",
	})

	consistencyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xcore_consistency_failures_total",
		Help: "Documents that failed the post-update consistency check.",
	})
)

// outcome labels
const (
	outcomeOK          = "ok"
	outcomeRejected    = "rejected"
	outcomeFailed      = "failed"
	outcomeFinishError = "finish_error"
)
