package querier

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var MetricQueryDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "regiolake_querier_query_duration_seconds",
		Help:    "Duration of warehouse read queries",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	},
	[]string{"query"},
)

func observe(name string, start time.Time) {
	MetricQueryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
}
