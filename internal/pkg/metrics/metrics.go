// Package metrics provides Prometheus metrics for the SAMS analytics core
// (RED + pipeline + WebSocket). Scrapeable at /metrics; dashboards and
// runbooks can rely on these names.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sams"

var (
	// HTTPRequestTotal counts requests by method, path, status (RED: rate).
	HTTPRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method, path, and status.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDurationSeconds is request latency histogram (RED: duration).
	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10), // 1ms to ~9.3s
		},
		[]string{"method", "path"},
	)

	// SamplesIngestedTotal counts accepted metric samples by rejection outcome.
	SamplesIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_ingested_total",
			Help:      "Total number of metric samples processed by ingest, by result.",
		},
		[]string{"result"}, // accepted | rejected | late
	)

	// WindowsSealedTotal counts tumbling windows sealed and emitted downstream.
	WindowsSealedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "windows_sealed_total",
			Help:      "Total number of aggregation windows sealed, by window size.",
		},
		[]string{"window"},
	)

	// AnomaliesDetectedTotal counts anomaly verdicts raised by the model store.
	AnomaliesDetectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_detected_total",
			Help:      "Total number of anomalies flagged by the statistical models.",
		},
	)

	// AlertsProcessedTotal counts alerts entering correlation, by type.
	AlertsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_processed_total",
			Help:      "Total number of alerts processed by the correlation engine, by type.",
		},
		[]string{"type"},
	)

	// PredictionsGeneratedTotal counts forecasts emitted, by risk level.
	PredictionsGeneratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_generated_total",
			Help:      "Total number of predictions generated, by risk level.",
		},
		[]string{"risk"},
	)

	// WebSocketConnectionsActive is current number of WebSocket clients (capacity planning).
	WebSocketConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections_active",
			Help:      "Number of active WebSocket connections.",
		},
	)

	// WebSocketDroppedMessagesTotal counts messages dropped on full client queues.
	WebSocketDroppedMessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_dropped_messages_total",
			Help:      "Total number of WebSocket messages dropped due to slow clients.",
		},
	)
)
