package extract

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MetricRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regiolake_extract_requests_total",
			Help: "Total number of table year extractions by outcome",
		},
		[]string{"table", "status"},
	)

	MetricRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regiolake_extract_retries_total",
			Help: "Total number of retried upstream requests",
		},
		[]string{"table"},
	)

	MetricRowsExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regiolake_extract_rows_total",
			Help: "Total number of raw rows downloaded",
		},
		[]string{"table"},
	)
)
