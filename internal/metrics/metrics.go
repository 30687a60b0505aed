// internal/metrics/metrics.go
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestHandlingSeconds is a histogram for request latencies across the HTTP and gRPC servers
	RequestHandlingSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "request_handling_seconds",
			Help:    "Histogram of response latency (seconds) of requests handled by the server.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"transport", "route", "code"},
	)

	// InferenceLatencySeconds is a histogram for inference-only latency
	InferenceLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inference_latency_seconds",
			Help:    "Histogram of inference latency (seconds) excluding transport and cache overhead.",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// PredictionsTotal counts served predictions by label
	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predictions_total",
			Help: "Number of predictions served, by predicted label.",
		},
		[]string{"label"},
	)

	// CacheRequestsTotal counts prediction cache lookups by result (hit, miss, error)
	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prediction_cache_requests_total",
			Help: "Number of prediction cache lookups, by result.",
		},
		[]string{"result"},
	)

	// ModelLoadsTotal counts model load attempts by result
	ModelLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_loads_total",
			Help: "Number of model artifact load attempts, by result.",
		},
		[]string{"result"},
	)

	// ModelLoaded is 1 once a model handle has been published
	ModelLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "model_loaded",
			Help: "Whether a model is loaded and serving (1 = loaded, 0 = not loaded).",
		},
	)

	// HealthStatus is a gauge indicating the health status of the service
	HealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "health_status",
			Help: "Health status of the service (1 = healthy, 0 = unhealthy).",
		},
	)
)

// Cache lookup results
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// RecordRequestLatency records the latency of a handled request
func RecordRequestLatency(transport, route, code string, seconds float64) {
	RequestHandlingSeconds.WithLabelValues(transport, route, code).Observe(seconds)
}

// RecordInferenceLatency records the latency of an inference call
func RecordInferenceLatency(seconds float64) {
	InferenceLatencySeconds.Observe(seconds)
}

// RecordPrediction counts a served prediction
func RecordPrediction(label int) {
	PredictionsTotal.WithLabelValues(strconv.Itoa(label)).Inc()
}

// RecordCacheLookup counts a prediction cache lookup
func RecordCacheLookup(result string) {
	CacheRequestsTotal.WithLabelValues(result).Inc()
}

// RecordModelLoad counts a load attempt and updates the loaded gauge on success
func RecordModelLoad(err error) {
	if err != nil {
		ModelLoadsTotal.WithLabelValues("failure").Inc()
		return
	}
	ModelLoadsTotal.WithLabelValues("success").Inc()
	ModelLoaded.Set(1)
}

// SetHealthy sets the health status to healthy
func SetHealthy() {
	HealthStatus.Set(1)
}

// SetUnhealthy sets the health status to unhealthy
func SetUnhealthy() {
	HealthStatus.Set(0)
}
