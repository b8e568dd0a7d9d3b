package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	buildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slipway_builds_total",
			Help: "Finished builds by terminal status",
		},
		[]string{"status"},
	)

	buildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "slipway_build_duration_seconds",
			Help:    "Wall time of finished builds in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
		},
	)

	stepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slipway_build_steps_total",
			Help: "Pipeline steps by name and outcome (executed, cached, failed)",
		},
		[]string{"step", "result"},
	)

	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slipway_http_requests_total",
			Help: "HTTP requests by method, route pattern and status code",
		},
		[]string{"method", "path", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "slipway_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// ObserveBuild records a finished build with its terminal status.
func ObserveBuild(status string, duration time.Duration) {
	buildsTotal.WithLabelValues(status).Inc()
	buildDuration.Observe(duration.Seconds())
}

// ObserveStep records one pipeline step outcome.
func ObserveStep(step, result string) {
	stepsTotal.WithLabelValues(step, result).Inc()
}

// ObserveRequest records one handled HTTP request.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	requestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
