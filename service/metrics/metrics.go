package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Ledger feed metrics
	ledgerUpdatesTotal      *prometheus.CounterVec
	ledgerEmptyUpdatesTotal *prometheus.CounterVec
	ledgerStatesTotal       *prometheus.CounterVec
	ledgerDecodeErrorsTotal *prometheus.CounterVec

	// Routing metrics
	routedTotal *prometheus.CounterVec

	// SMS metrics
	smsDispatchTotal *prometheus.CounterVec

	// Case sync metrics
	caseSyncTotal *prometheus.CounterVec

	// Outbound HTTP metrics
	outboundRequestDuration *prometheus.HistogramVec
	outboundRequestsTotal   *prometheus.CounterVec
	outboundRetriesTotal    *prometheus.CounterVec

	// Resend workflow metrics
	activityDuration *prometheus.HistogramVec

	// Database metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		ledgerUpdatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_updates_total",
				Help: "Total number of update batches received from the ledger feed",
			},
			[]string{"subscriber"},
		),
		ledgerEmptyUpdatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_empty_updates_total",
				Help: "Total number of update batches with no produced states",
			},
			[]string{"subscriber"},
		),
		ledgerStatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_states_total",
				Help: "Total number of produced states received by state type",
			},
			[]string{"subscriber", "state_type"},
		),
		ledgerDecodeErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_decode_errors_total",
				Help: "Total number of produced states that could not be decoded",
			},
			[]string{"subscriber", "state_type"},
		),

		routedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "router_actions_total",
				Help: "Total number of routed transitions by resulting action",
			},
			[]string{"state_type", "action"},
		),

		smsDispatchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sms_dispatch_total",
				Help: "Total number of SMS dispatch attempts by template and outcome",
			},
			[]string{"template", "outcome", "reason"},
		),

		caseSyncTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "case_sync_total",
				Help: "Total number of case synchronizations by outcome",
			},
			[]string{"outcome", "reason"},
		),

		outboundRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "outbound_request_duration_seconds",
				Help:    "Duration of outbound HTTP requests in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 15.0},
			},
			[]string{"target", "method"},
		),
		outboundRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outbound_requests_total",
				Help: "Total number of outbound HTTP requests by status class",
			},
			[]string{"target", "method", "status"},
		),
		outboundRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outbound_retries_total",
				Help: "Total number of retried outbound operations",
			},
			[]string{"target"},
		),

		activityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "resend_activity_duration_seconds",
				Help:    "Duration of resend workflow activities in seconds",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"activity"},
		),

		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),
	}
}

// Ledger feed metric helpers

// RecordUpdate records one update batch and the number of states it produced.
func (m *Metrics) RecordUpdate(subscriber string, produced int) {
	if m == nil {
		return
	}
	m.ledgerUpdatesTotal.WithLabelValues(subscriber).Inc()
	if produced == 0 {
		m.ledgerEmptyUpdatesTotal.WithLabelValues(subscriber).Inc()
	}
}

// RecordState records a produced state seen by a subscriber.
func (m *Metrics) RecordState(subscriber, stateType string) {
	if m == nil {
		return
	}
	m.ledgerStatesTotal.WithLabelValues(subscriber, stateType).Inc()
}

// RecordDecodeError records a produced state that failed to decode.
func (m *Metrics) RecordDecodeError(subscriber, stateType string) {
	if m == nil {
		return
	}
	m.ledgerDecodeErrorsTotal.WithLabelValues(subscriber, stateType).Inc()
}

// Routing metric helpers

// RecordRouted records the action taken for a transition.
func (m *Metrics) RecordRouted(stateType, action string) {
	if m == nil {
		return
	}
	m.routedTotal.WithLabelValues(stateType, action).Inc()
}

// SMS metric helpers

// RecordSMSDispatch records the outcome of one SMS dispatch.
func (m *Metrics) RecordSMSDispatch(template, outcome, reason string) {
	if m == nil {
		return
	}
	m.smsDispatchTotal.WithLabelValues(template, outcome, reason).Inc()
}

// Case sync metric helpers

// RecordCaseSync records the outcome of one case synchronization.
func (m *Metrics) RecordCaseSync(outcome, reason string) {
	if m == nil {
		return
	}
	m.caseSyncTotal.WithLabelValues(outcome, reason).Inc()
}

// Outbound HTTP metric helpers

// RecordOutboundRequest records an outbound HTTP request with duration.
// A statusCode of 0 means the request failed before a response arrived.
func (m *Metrics) RecordOutboundRequest(target, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	m.outboundRequestDuration.WithLabelValues(target, method).Observe(duration)
	m.outboundRequestsTotal.WithLabelValues(target, method, statusCodeToString(statusCode)).Inc()
}

// RecordRetry records a retry attempt against an outbound target.
func (m *Metrics) RecordRetry(target string) {
	if m == nil {
		return
	}
	m.outboundRetriesTotal.WithLabelValues(target).Inc()
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity string, duration float64) {
	if m == nil {
		return
	}
	m.activityDuration.WithLabelValues(activity).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	case code == 0:
		return "transport_error"
	default:
		return "unknown"
	}
}
