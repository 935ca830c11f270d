package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// RequestLatency tracks HTTP request latency by endpoint and method
	RequestLatency *prometheus.HistogramVec
	// HTTPRequestsTotal total HTTP requests
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTPRequestsInFlight current HTTP requests being processed
	HTTPRequestsInFlight prometheus.Gauge
	// ErrorCounter counts errors by type and endpoint
	ErrorCounter *prometheus.CounterVec
	// TokenRefreshes counts provider token refreshes by status
	TokenRefreshes *prometheus.CounterVec
	// TokenExchanges counts authorization-code exchanges by status
	TokenExchanges *prometheus.CounterVec
	// WatchOperations counts push subscription operations
	WatchOperations *prometheus.CounterVec
	// PushNotifications counts processed push notifications by outcome
	PushNotifications *prometheus.CounterVec
	// MessagesFetched counts messages fetched from the mailbox
	MessagesFetched prometheus.Counter
	// IntakeDeliveries counts intake emissions by sink and status
	IntakeDeliveries *prometheus.CounterVec
	// CredentialHealth tracks credential health (1=healthy, 0=unhealthy)
	CredentialHealth *prometheus.GaugeVec
	// registry is the custom registry for this metrics instance
	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_latency_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		ErrorCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"type", "endpoint", "method"},
		),
		TokenRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refreshes_total",
				Help:      "Total number of access token refreshes",
			},
			[]string{"status"},
		),
		TokenExchanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_exchanges_total",
				Help:      "Total number of authorization code exchanges",
			},
			[]string{"status"},
		),
		WatchOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "watch_operations_total",
				Help:      "Total number of push subscription operations",
			},
			[]string{"operation", "status"},
		),
		PushNotifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "push_notifications_total",
				Help:      "Total number of push notifications by outcome",
			},
			[]string{"outcome"},
		),
		MessagesFetched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_fetched_total",
				Help:      "Total number of messages fetched from mailboxes",
			},
		),
		IntakeDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "intake_deliveries_total",
				Help:      "Total number of intake emissions",
			},
			[]string{"sink", "status"},
		),
		CredentialHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "credential_health_status",
				Help:      "Credential health (1=healthy, 0=unhealthy)",
			},
			[]string{"agent_id", "provider"},
		),
	}

	// Register metrics with custom registry
	registry.MustRegister(
		m.RequestLatency,
		m.HTTPRequestsTotal,
		m.HTTPRequestsInFlight,
		m.ErrorCounter,
		m.TokenRefreshes,
		m.TokenExchanges,
		m.WatchOperations,
		m.PushNotifications,
		m.MessagesFetched,
		m.IntakeDeliveries,
		m.CredentialHealth,
	)

	return m
}

// Handler returns a Prometheus handler for these metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequestLatency records the latency of an HTTP request
func (m *Metrics) RecordRequestLatency(endpoint, method, status string, durationSeconds float64) {
	m.RequestLatency.WithLabelValues(endpoint, method, status).Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint, method, status string) {
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// IncHTTPRequestsInFlight increments the in-flight requests counter
func (m *Metrics) IncHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Inc()
}

// DecHTTPRequestsInFlight decrements the in-flight requests counter
func (m *Metrics) DecHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Dec()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, endpoint, method string) {
	m.ErrorCounter.WithLabelValues(errorType, endpoint, method).Inc()
}

// RecordTokenRefresh records a token refresh attempt
func (m *Metrics) RecordTokenRefresh(status string) {
	m.TokenRefreshes.WithLabelValues(status).Inc()
}

// RecordTokenExchange records an authorization code exchange
func (m *Metrics) RecordTokenExchange(status string) {
	m.TokenExchanges.WithLabelValues(status).Inc()
}

// RecordWatchOperation records a push subscription operation
func (m *Metrics) RecordWatchOperation(operation, status string) {
	m.WatchOperations.WithLabelValues(operation, status).Inc()
}

// RecordPushNotification records a processed push notification
func (m *Metrics) RecordPushNotification(outcome string) {
	m.PushNotifications.WithLabelValues(outcome).Inc()
}

// RecordMessageFetched records one fetched message
func (m *Metrics) RecordMessageFetched() {
	m.MessagesFetched.Inc()
}

// RecordIntakeDelivery records an intake emission
func (m *Metrics) RecordIntakeDelivery(sink, status string) {
	m.IntakeDeliveries.WithLabelValues(sink, status).Inc()
}

// SetCredentialHealth sets the health status for a credential
func (m *Metrics) SetCredentialHealth(agentID, provider string, healthy bool) {
	value := 1.0
	if !healthy {
		value = 0.0
	}
	m.CredentialHealth.WithLabelValues(agentID, provider).Set(value)
}
