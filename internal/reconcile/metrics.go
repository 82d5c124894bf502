package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PassesTotal counts reconciliation passes by result.
	// Labels: result (ok, error, dropped, redirected)
	PassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "choresyncd",
			Subsystem: "reconcile",
			Name:      "passes_total",
			Help:      "Total number of reconciliation passes by result",
		},
		[]string{"result"},
	)

	// PassDuration tracks how long a full pass takes.
	PassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "choresyncd",
			Subsystem: "reconcile",
			Name:      "pass_duration_seconds",
			Help:      "Duration of reconciliation passes in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// InstancesCreated counts instances materialized by reconciliation.
	InstancesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "choresyncd",
			Subsystem: "reconcile",
			Name:      "instances_created_total",
			Help:      "Instances materialized from templates",
		},
	)

	// InstancesExpired counts stale instances removed by reconciliation.
	InstancesExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "choresyncd",
			Subsystem: "reconcile",
			Name:      "instances_expired_total",
			Help:      "Stale instances removed",
		},
	)
)
