package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the signaling service.
// Each instance owns its registry so several can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Database Metrics
	dbQueryDuration    *prometheus.HistogramVec
	dbQueryErrorsTotal *prometheus.CounterVec

	// WebSocket Metrics
	websocketConnections   prometheus.Gauge
	websocketMessagesTotal *prometheus.CounterVec

	// Call Metrics
	callsTotal    *prometheus.CounterVec
	callsActive   prometheus.Gauge
	callsDuration *prometheus.HistogramVec

	// Signaling Metrics
	signalingWritesTotal *prometheus.CounterVec
	operationsRejected   *prometheus.CounterVec
	lifecycleConflicts   *prometheus.CounterVec
	eventSinkFailures    *prometheus.CounterVec

	// Push Notification Metrics
	pushNotificationsTotal  *prometheus.CounterVec
	pushNotificationsFailed *prometheus.CounterVec

	// Rate Limiting Metrics
	rateLimitBlockedTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)
	labels := prometheus.Labels{"service": serviceName}

	m := &Metrics{
		registry: reg,

		// HTTP Request Metrics
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: labels,
			},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "db_query_duration_seconds",
				Help:        "Call store operation latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		dbQueryErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "db_query_errors_total",
				Help:        "Total number of call store errors",
				ConstLabels: labels,
			},
			[]string{"operation"},
		),

		// WebSocket Metrics
		websocketConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "websocket_connections",
				Help:        "Number of active call event WebSocket connections",
				ConstLabels: labels,
			},
		),
		websocketMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_messages_total",
				Help:        "Total number of WebSocket messages",
				ConstLabels: labels,
			},
			[]string{"type", "direction"},
		),

		// Call Metrics
		callsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_total",
				Help:        "Total number of call lifecycle transitions",
				ConstLabels: labels,
			},
			[]string{"media", "status"},
		),
		callsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "calls_active",
				Help:        "Number of ringing or connected calls seen by this instance",
				ConstLabels: labels,
			},
		),
		callsDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "calls_duration_seconds",
				Help:        "Connected call duration in seconds",
				ConstLabels: labels,
				Buckets:     []float64{10, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"media"},
		),

		// Signaling Metrics
		signalingWritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signaling_writes_total",
				Help:        "Total number of offer, answer and candidate writes",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
		operationsRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signaling_operations_rejected_total",
				Help:        "Total number of signaling operations rejected with a typed error",
				ConstLabels: labels,
			},
			[]string{"operation", "code"},
		),
		lifecycleConflicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signaling_lifecycle_conflicts_total",
				Help:        "Total number of conditional writes that lost a race and were re-evaluated",
				ConstLabels: labels,
			},
			[]string{"operation"},
		),
		eventSinkFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "call_event_sink_failures_total",
				Help:        "Total number of call events a sink failed to deliver",
				ConstLabels: labels,
			},
			[]string{"sink"},
		),

		// Push Notification Metrics
		pushNotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "push_notifications_total",
				Help:        "Total number of push notifications sent",
				ConstLabels: labels,
			},
			[]string{"type"},
		),
		pushNotificationsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "push_notifications_failed_total",
				Help:        "Total number of failed push notifications",
				ConstLabels: labels,
			},
			[]string{"type"},
		),

		// Rate Limiting Metrics
		rateLimitBlockedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "rate_limit_blocked_total",
				Help:        "Total number of requests blocked by rate limiting",
				ConstLabels: labels,
			},
			[]string{"endpoint"},
		),
	}

	return m
}

// GetRegistry returns the registry backing this instance
func (m *Metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

// Register adds extra collectors, such as the Redis degraded-mode gauges
func (m *Metrics) Register(cs ...prometheus.Collector) {
	for _, c := range cs {
		_ = m.registry.Register(c)
	}
}

// HTTP Metrics Methods

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the number of in-flight HTTP requests
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements the number of in-flight HTTP requests
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Dec()
}

// RecordDBQuery records a call store operation
func (m *Metrics) RecordDBQuery(operation string, duration time.Duration, err error) {
	m.dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.dbQueryErrorsTotal.WithLabelValues(operation).Inc()
	}
}

// SetWebSocketConnections sets the number of active WebSocket connections
func (m *Metrics) SetWebSocketConnections(count int) {
	m.websocketConnections.Set(float64(count))
}

// RecordWebSocketMessage records a WebSocket message
func (m *Metrics) RecordWebSocketMessage(msgType, direction string) {
	m.websocketMessagesTotal.WithLabelValues(msgType, direction).Inc()
}

// Call Metrics Methods

// RecordCall records a call entering status
func (m *Metrics) RecordCall(media, status string) {
	m.callsTotal.WithLabelValues(media, status).Inc()
}

// IncActiveCalls tracks a newly created call
func (m *Metrics) IncActiveCalls() {
	m.callsActive.Inc()
}

// DecActiveCalls tracks a call leaving the active states
func (m *Metrics) DecActiveCalls() {
	m.callsActive.Dec()
}

// RecordCallDuration records the duration of a connected call
func (m *Metrics) RecordCallDuration(media string, duration time.Duration) {
	m.callsDuration.WithLabelValues(media).Observe(duration.Seconds())
}

// RecordSignalingWrite records an offer, answer or candidate write
func (m *Metrics) RecordSignalingWrite(kind string) {
	m.signalingWritesTotal.WithLabelValues(kind).Inc()
}

// RecordRejected records an operation refused with an application error code
func (m *Metrics) RecordRejected(operation, code string) {
	m.operationsRejected.WithLabelValues(operation, code).Inc()
}

// RecordLifecycleConflict records a lost compare-and-set
func (m *Metrics) RecordLifecycleConflict(operation string) {
	m.lifecycleConflicts.WithLabelValues(operation).Inc()
}

// RecordEventSinkFailure records an undelivered call event
func (m *Metrics) RecordEventSinkFailure(sink string) {
	m.eventSinkFailures.WithLabelValues(sink).Inc()
}

// RecordPushNotification records a push notification
func (m *Metrics) RecordPushNotification(notifType string) {
	m.pushNotificationsTotal.WithLabelValues(notifType).Inc()
}

// RecordPushNotificationFailure records a failed push notification
func (m *Metrics) RecordPushNotificationFailure(notifType string) {
	m.pushNotificationsFailed.WithLabelValues(notifType).Inc()
}

// RecordRateLimitBlocked records a request blocked by rate limiting
func (m *Metrics) RecordRateLimitBlocked(endpoint string) {
	m.rateLimitBlockedTotal.WithLabelValues(endpoint).Inc()
}
