package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reconcileRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tagcomb_reconcile_runs_total",
		Help: "Number of reconciliation passes.",
	})

	itemsWrapped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tagcomb_items_wrapped_total",
		Help: "Items that transitioned from visible to wrapped.",
	})

	itemsUnwrapped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tagcomb_items_unwrapped_total",
		Help: "Items that transitioned from wrapped back to visible.",
	})

	reconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tagcomb_reconcile_duration_seconds",
		Help:    "Duration of reconciliation passes.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
	})

	tagsHiddenByUser = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tagcomb_tags_hidden_total",
		Help: "Tags added to the blocklist through page interactions.",
	})
)
