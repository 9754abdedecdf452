package load

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MetricRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regiolake_load_rows_total",
			Help: "Total number of fact rows handled by the loader, by outcome",
		},
		[]string{"indicator", "outcome"},
	)

	MetricBatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "regiolake_load_batch_duration_seconds",
			Help:    "Duration of load batches",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"indicator", "status"},
	)

	MetricNewDimensionKeys = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regiolake_load_new_dimension_keys_total",
			Help: "Total number of dimension rows created while loading facts",
		},
		[]string{"kind"},
	)
)
