package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Inference
	InferenceRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schema2tf_inference_requests_total",
			Help: "Number of streaming inference requests by backend and model",
		},
		[]string{"backend", "model"},
	)
	InferenceErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schema2tf_inference_errors_total",
			Help: "Inference failures by backend and error kind",
		},
		[]string{"backend", "kind"},
	)

	// Stages
	StageRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schema2tf_stage_runs_total",
			Help: "Pipeline stage runs by stage and result",
		},
		[]string{"stage", "result"}, // result: ok|cached|error
	)
	StageTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schema2tf_stage_tokens_total",
			Help: "Tokens reported by the model per stage",
		},
		[]string{"stage", "direction"}, // direction: input|output
	)
	StageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "schema2tf_stage_duration_seconds",
			Help:    "Wall-clock duration of a stage including streaming",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 9), // 0.5s..128s
		},
		[]string{"stage"},
	)
	ModelLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "schema2tf_model_latency_seconds",
			Help:    "Latency reported by the inference service",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 9),
		},
		[]string{"stage"},
	)

	// HTTP
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schema2tf_http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)
	HTTPDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "schema2tf_http_request_duration_seconds",
			Help:    "Duration of HTTP requests, streaming responses included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Sessions
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "schema2tf_sessions_active",
			Help: "Sessions currently held in memory",
		},
	)
)

func init() {
	prometheus.MustRegister(
		InferenceRequests,
		InferenceErrors,
		StageRuns,
		StageTokens,
		StageDurationSeconds,
		ModelLatencySeconds,
		HTTPRequests,
		HTTPDurationSeconds,
		ActiveSessions,
	)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Inference
func IncInferenceRequest(backend, model string) {
	InferenceRequests.WithLabelValues(backend, model).Inc()
}

func IncInferenceError(backend, kind string) {
	InferenceErrors.WithLabelValues(backend, kind).Inc()
}

// Stages
func IncStageRun(stage, result string) {
	StageRuns.WithLabelValues(stage, result).Inc()
}

func AddStageTokens(stage, direction string, n int) {
	StageTokens.WithLabelValues(stage, direction).Add(float64(n))
}

func ObserveStageDuration(stage string, d time.Duration) {
	StageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

func ObserveModelLatency(stage string, ms int64) {
	ModelLatencySeconds.WithLabelValues(stage).Observe(float64(ms) / 1000)
}

// HTTP
func ObserveRequest(method, route string, status int, d time.Duration) {
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPDurationSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}

// Sessions
func SetActiveSessions(n int) {
	ActiveSessions.Set(float64(n))
}
