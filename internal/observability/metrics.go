package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	readingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_readings_total",
			Help: "Readings processed by the ingest pipeline, by outcome.",
		},
		[]string{"outcome"}, // stored, rejected, write_error
	)

	validationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_validation_failures_total",
			Help: "Validation rejections by rule.",
		},
		[]string{"rule"},
	)

	enrichmentResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_enrichment_total",
			Help: "Enrichment attempts by outcome.",
		},
		[]string{"outcome"}, // attached, none, cache_hit, error
	)

	storeOpDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Latency of Redis operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"op", "ok"},
	)

	detectRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detect_runs_total",
			Help: "Detection runs by outcome.",
		},
		[]string{"outcome"}, // ok, partial, error
	)

	detectRunDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "detect_run_duration_seconds",
			Help:    "Wall-clock duration of a detection run.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		},
	)

	assessmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detect_assessments_total",
			Help: "Per-zone assessments by detection type.",
		},
		[]string{"type"}, // cluster, individual, none
	)

	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_calls_total",
			Help: "Model invocations by outcome.",
		},
		[]string{"outcome"}, // ok, throttled, transient, bad_output
	)

	llmCallDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "llm_call_duration_seconds",
			Help:    "Latency of model invocations, successful or not.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)

	alertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_total",
			Help: "Alert lifecycle transitions.",
		},
		[]string{"action"}, // created, escalated, deduplicated, expired
	)

	publishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_publish_total",
			Help: "Messages handed to the event bus, by topic class and outcome.",
		},
		[]string{"class", "outcome"}, // class: event, alert
	)

	activeAlertsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "alerts_active",
			Help: "Active alerts observed by the most recent detection run.",
		},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func IncReading(outcome string)        { readingsTotal.WithLabelValues(outcome).Inc() }
func IncValidationFailure(rule string) { validationFailures.WithLabelValues(rule).Inc() }
func IncEnrichment(outcome string)     { enrichmentResults.WithLabelValues(outcome).Inc() }

func ObserveStoreOp(op string, err error, durationSeconds float64) {
	ok := "true"
	if err != nil {
		ok = "false"
	}
	storeOpDurationSeconds.WithLabelValues(op, ok).Observe(durationSeconds)
}

func ObserveDetectRun(outcome string, durationSeconds float64) {
	detectRunsTotal.WithLabelValues(outcome).Inc()
	detectRunDurationSeconds.Observe(durationSeconds)
}

func IncAssessment(detectionType string) { assessmentsTotal.WithLabelValues(detectionType).Inc() }

func ObserveLLMCall(outcome string, durationSeconds float64) {
	llmCallsTotal.WithLabelValues(outcome).Inc()
	llmCallDurationSeconds.Observe(durationSeconds)
}

func IncAlert(action string)           { alertsTotal.WithLabelValues(action).Inc() }
func IncPublish(class, outcome string) { publishTotal.WithLabelValues(class, outcome).Inc() }
func SetActiveAlerts(n int)            { activeAlertsGauge.Set(float64(n)) }

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
