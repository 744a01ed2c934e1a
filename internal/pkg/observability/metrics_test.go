package observability

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()

	m.IncrWorkflow("confirm_operator", "success")
	m.IncrWorkflow("confirm_operator", "success")
	m.IncrGatewayError("asaas")
	m.SetReconciliationBacklog(3)
	m.ObserveGateway("asaas", "GetPayment", 15*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.workflowOperations.WithLabelValues("confirm_operator", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.gatewayErrors.WithLabelValues("asaas")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.seatChangesBacklog))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncrWorkflow("x", "y")
		m.ObserveGateway("s", "o", time.Second)
		m.IncrGatewayError("s")
		m.SetReconciliationBacklog(1)
		m.IncrWebhook("e", "r")
	})
}

func TestNewMetrics_Independent(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics()
		NewMetrics()
	})
}

func TestInitTracer_NoEndpoint(t *testing.T) {
	shutdown, err := InitTracer("", "lead-flow", "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
