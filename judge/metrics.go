package judge

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grader_submissions_total",
			Help: "Total number of submissions handled by outcome",
		},
		[]string{"outcome"},
	)

	gradeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "grader_grade_duration_seconds",
			Help:    "Time spent grading one submission in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{submissionsTotal, gradeDuration} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
