// Package metrics holds per-device rolling summaries and the Prometheus
// collectors exported on /metrics/prometheus.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"safeguard/internal/model"
)

var (
	SamplesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safeguard_samples_processed_total",
			Help: "Telemetry samples scored, by ingest source",
		},
		[]string{"source"},
	)

	SamplesDuplicate = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safeguard_samples_duplicate_total",
			Help: "Redelivered samples skipped inside the dedupe window",
		},
	)

	SamplesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safeguard_samples_dropped_total",
			Help: "Samples dropped before scoring",
		},
		[]string{"source", "reason"},
	)

	ScoringErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safeguard_scoring_errors_total",
			Help: "Failed scoring calls by error kind",
		},
		[]string{"kind"},
	)

	ScoringDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "safeguard_scoring_duration_seconds",
			Help:    "Time spent in one pipeline call",
			Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		},
	)

	SafetyScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "safeguard_safety_score",
			Help:    "Distribution of composite safety scores",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
	)

	AlertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safeguard_alerts_total",
			Help: "Alerts raised by type and severity",
		},
		[]string{"type", "severity"},
	)

	TrackedDevices = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "safeguard_tracked_devices",
			Help: "Devices with rolling-window state",
		},
	)

	ZonesLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "safeguard_zones_loaded",
			Help: "Risk zones in the live geofence index",
		},
	)

	SinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safeguard_sink_errors_total",
			Help: "Failed writes to storage or the message bus",
		},
		[]string{"sink"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "safeguard_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	BreakerRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safeguard_circuit_breaker_rejected_total",
			Help: "Calls short-circuited by an open breaker",
		},
		[]string{"name"},
	)

	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safeguard_api_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "safeguard_api_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

func RecordScore(source string, score int, d time.Duration) {
	if source == "" {
		source = "unknown"
	}
	SamplesProcessed.WithLabelValues(source).Inc()
	SafetyScores.Observe(float64(score))
	ScoringDuration.Observe(d.Seconds())
}

func RecordAlert(a model.Alert) {
	AlertsRaised.WithLabelValues(a.Type, string(a.Severity)).Inc()
}

// RecordScoringError labels the failure with its typed kind.
func RecordScoringError(err error) {
	ScoringErrors.WithLabelValues(ErrorKind(err)).Inc()
}

func RecordAPIRequest(method, route string, status int, d time.Duration) {
	APIRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ErrorKind names the sentinel behind err.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, model.ErrValidation):
		return "validation"
	case errors.Is(err, model.ErrUnknownCategory):
		return "unknown_category"
	case errors.Is(err, model.ErrFeatureSchemaMismatch):
		return "feature_schema_mismatch"
	case errors.Is(err, model.ErrModelUnavailable):
		return "model_unavailable"
	case errors.Is(err, model.ErrZoneGeometryInvalid):
		return "zone_geometry_invalid"
	}
	return "internal"
}
