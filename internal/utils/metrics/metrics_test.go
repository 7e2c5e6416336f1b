package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordHTTPRequest(t *testing.T) {
	m := NewWith("test", prometheus.NewRegistry())

	m.RecordHTTPRequest("GET", "/health", 200, 15*time.Millisecond)
	m.RecordHTTPRequest("GET", "/health", 200, 5*time.Millisecond)
	m.RecordHTTPRequest("POST", "/api/v1/workspaces", 201, 40*time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(
		m.HTTPRequestsTotal.WithLabelValues("GET", "/health", "200"),
	))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.HTTPRequestsTotal.WithLabelValues("POST", "/api/v1/workspaces", "201"),
	))
}

func TestPresenceMetrics(t *testing.T) {
	m := NewWith("test", prometheus.NewRegistry())

	m.SetConnections("ws-1", 3)
	m.RecordMessage("cursor_update")
	m.RecordMessage("cursor_update")
	m.RecordMessage("user_join")
	m.RecordBroadcast()
	m.RecordEviction("liveness")

	assert.Equal(t, float64(3), testutil.ToFloat64(
		m.ConnectionsActive.WithLabelValues("ws-1"),
	))
	assert.Equal(t, float64(2), testutil.ToFloat64(
		m.MessagesTotal.WithLabelValues("cursor_update"),
	))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BroadcastsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.EvictionsTotal.WithLabelValues("liveness"),
	))
}

func TestNilMetricsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordMessage("ping")
		m.RecordBroadcast()
		m.RecordEviction("closed")
		m.SetConnections("ws-1", 0)
	})
}
