package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MetricRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regiolake_pipeline_runs_total",
			Help: "Total number of pipeline runs by table and status",
		},
		[]string{"table", "status"},
	)

	MetricRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "regiolake_pipeline_run_duration_seconds",
			Help:    "Duration of successful pipeline runs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"table"},
	)

	MetricRowsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regiolake_pipeline_rows_dropped_total",
			Help: "Total number of raw rows dropped by the transformer",
		},
		[]string{"indicator"},
	)
)
