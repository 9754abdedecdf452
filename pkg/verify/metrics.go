package verify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var MetricVerdictsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "regiolake_verify_verdicts_total",
		Help: "Total number of verification verdicts by indicator",
	},
	[]string{"indicator", "verdict"},
)
