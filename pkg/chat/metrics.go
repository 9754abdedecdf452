package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MetricQuestions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regiolake_chat_questions_total",
			Help: "Total number of chat questions by detected intent",
		},
		[]string{"intent"},
	)

	MetricAnswerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "regiolake_chat_answer_duration_seconds",
			Help:    "Duration of answering a chat question",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"intent"},
	)
)
