package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestHealthStateIsOneHot(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetHealthState("offline")
	m.SetHealthState("online")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HealthState.WithLabelValues("online")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.HealthState.WithLabelValues("offline")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.HealthState.WithLabelValues("degraded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HealthChecks.WithLabelValues("offline")))
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetQueueDepth(3)
	m.IncrementQueueAbandoned()
	m.IncrementAuditAppends("QUEUED")
	m.ObserveVerification("queued", 10*time.Millisecond)
	m.IncrementConversion("convert", "success")

	assert.Equal(t, 3.0, testutil.ToFloat64(m.QueueDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueueAbandoned))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditAppends.WithLabelValues("QUEUED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VerificationOutcomes.WithLabelValues("queued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConversionOutcomes.WithLabelValues("convert", "success")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetHealthState("online")
		m.SetQueueDepth(1)
		m.IncrementMirrorDropped()
		m.ObserveVerification("success", time.Second)
	})
}
