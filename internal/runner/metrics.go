package runner

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	casesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crucible_cases_total",
			Help: "Total number of cases by terminal state.",
		},
		[]string{"state"},
	)

	caseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crucible_case_duration_seconds",
			Help:    "Wall-clock duration of a case from setup through cleanup.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"state"},
	)

	perfViolations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crucible_perf_violations_total",
			Help: "Total number of performance metrics outside tolerance.",
		},
	)
)

func init() {
	prometheus.MustRegister(casesTotal)
	prometheus.MustRegister(caseDuration)
	prometheus.MustRegister(perfViolations)
}
