package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilRecordersAreNoops(t *testing.T) {
	m := New(nil)

	assert.NotPanics(t, func() {
		m.HTTP.Observe("GET", "/healthz", 200, time.Millisecond)
		m.Webhook.Inc("applied")
		m.Gateway.Observe("ok", time.Second)
		m.Retry.IncAttempt("failed")
		m.Retry.IncExhausted()
		m.Retry.ObserveSweep(time.Second)
		m.Retry.SetTickets(map[string]int64{"pending": 1})
	})

	var nilWebhook *WebhookMetrics
	assert.NotPanics(t, func() { nilWebhook.Inc("applied") })
}

func TestRecordersCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Webhook.Inc("applied")
	m.Webhook.Inc("applied")
	m.Webhook.Inc("")
	m.Retry.IncExhausted()
	m.Retry.SetTickets(map[string]int64{"failed": 4})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Webhook.results.WithLabelValues("applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Webhook.results.WithLabelValues("unknown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Retry.exhausted))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Retry.tickets.WithLabelValues("failed")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
