package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the billing core.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	// Registry owns the collectors and backs the /metrics endpoint.
	Registry *prometheus.Registry

	workflowOperations *prometheus.CounterVec
	gatewayDuration    *prometheus.HistogramVec
	gatewayErrors      *prometheus.CounterVec
	seatChangesBacklog prometheus.Gauge
	webhookEvents      *prometheus.CounterVec
}

// NewMetrics creates a dedicated registry so tests can build several
// instances without duplicate-collector panics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		workflowOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadflow_workflow_operations_total",
				Help: "Subscription workflow operations by outcome.",
			},
			[]string{"operation", "outcome"},
		),
		gatewayDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leadflow_gateway_request_duration_seconds",
				Help:    "Duration of outbound calls to external services.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service", "operation"},
		),
		gatewayErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadflow_gateway_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		seatChangesBacklog: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "leadflow_seat_changes_needing_reconciliation",
				Help: "Seat changes waiting for reconciliation.",
			},
		),
		webhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadflow_webhook_events_total",
				Help: "Billing webhook events by type and result.",
			},
			[]string{"event", "result"},
		),
	}
}

// IncrWorkflow counts one workflow operation with its outcome.
func (m *Metrics) IncrWorkflow(operation, outcome string) {
	if m == nil {
		return
	}
	m.workflowOperations.WithLabelValues(operation, outcome).Inc()
}

// ObserveGateway records the duration of an outbound call.
func (m *Metrics) ObserveGateway(service, operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.gatewayDuration.WithLabelValues(service, operation).Observe(d.Seconds())
}

// IncrGatewayError increments the external error counter.
func (m *Metrics) IncrGatewayError(service string) {
	if m == nil {
		return
	}
	m.gatewayErrors.WithLabelValues(service).Inc()
}

// SetReconciliationBacklog publishes the number of stuck seat changes.
func (m *Metrics) SetReconciliationBacklog(n int) {
	if m == nil {
		return
	}
	m.seatChangesBacklog.Set(float64(n))
}

// IncrWebhook counts a processed webhook event.
func (m *Metrics) IncrWebhook(event, result string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(event, result).Inc()
}
