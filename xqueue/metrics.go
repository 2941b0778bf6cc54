package xqueue

import (
	"github.com/prometheus/client_golang/prometheus"
	"time"
)

var requestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "xqueue_request_duration_seconds",
		Help:    "Duration of xqueue operations in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"operation"},
)

func RegisterMetrics(reg prometheus.Registerer) error {
	return reg.Register(requestDuration)
}

func observeRequest(operation string, start time.Time) {
	requestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
