package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var healthStates = []string{"online", "degraded", "offline"}

// Metrics holds all Prometheus metrics for the coordinator. A nil *Metrics is
// valid and records nothing, so services can run without a registry.
type Metrics struct {
	HealthState          *prometheus.GaugeVec
	HealthChecks         *prometheus.CounterVec
	QueueDepth           prometheus.Gauge
	QueueRetries         prometheus.Counter
	QueueAbandoned       prometheus.Counter
	AuditAppends         *prometheus.CounterVec
	AuditAppendFailures  prometheus.Counter
	MirrorPublished      *prometheus.CounterVec
	MirrorDropped        prometheus.Counter
	VerificationOutcomes *prometheus.CounterVec
	VerificationDuration prometheus.Histogram
	DrainRuns            *prometheus.CounterVec
	DrainItems           *prometheus.CounterVec
	ConversionOutcomes   *prometheus.CounterVec
}

// New creates and registers all metrics on reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HealthState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "enrollgate_backend_health_state",
			Help: "Current backend health state (1 for the active state, 0 otherwise)",
		}, []string{"state"}),
		HealthChecks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "enrollgate_backend_health_checks_total",
			Help: "Total number of backend health checks by resulting state",
		}, []string{"state"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "enrollgate_offline_queue_depth",
			Help: "Number of pending verifications waiting in the offline queue",
		}),
		QueueRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "enrollgate_offline_queue_retries_total",
			Help: "Total number of failed replays of queued verifications",
		}),
		QueueAbandoned: f.NewCounter(prometheus.CounterOpts{
			Name: "enrollgate_offline_queue_abandoned_total",
			Help: "Total number of queued verifications moved to the abandoned set",
		}),
		AuditAppends: f.NewCounterVec(prometheus.CounterOpts{
			Name: "enrollgate_audit_entries_total",
			Help: "Total number of audit entries appended by result",
		}, []string{"result"}),
		AuditAppendFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "enrollgate_audit_append_failures_total",
			Help: "Total number of audit entries that could not be persisted locally",
		}),
		MirrorPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "enrollgate_audit_mirror_events_total",
			Help: "Total number of audit mirror attempts by outcome",
		}, []string{"outcome"}),
		MirrorDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "enrollgate_audit_mirror_dropped_total",
			Help: "Total number of audit entries dropped from the mirror buffer",
		}),
		VerificationOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "enrollgate_verifications_total",
			Help: "Total number of verification submissions by outcome",
		}, []string{"outcome"}),
		VerificationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "enrollgate_verification_duration_seconds",
			Help:    "Duration of verification submissions",
			Buckets: prometheus.DefBuckets,
		}),
		DrainRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "enrollgate_queue_drain_runs_total",
			Help: "Total number of queue drain runs by result",
		}, []string{"result"}),
		DrainItems: f.NewCounterVec(prometheus.CounterOpts{
			Name: "enrollgate_queue_drain_items_total",
			Help: "Total number of queued items processed by drains by outcome",
		}, []string{"outcome"}),
		ConversionOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "enrollgate_conversion_operations_total",
			Help: "Total number of lifecycle operations by operation and result",
		}, []string{"operation", "result"}),
	}
}

func (m *Metrics) SetHealthState(state string) {
	if m == nil {
		return
	}
	for _, s := range healthStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.HealthState.WithLabelValues(s).Set(v)
	}
	m.HealthChecks.WithLabelValues(state).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) IncrementQueueRetries() {
	if m == nil {
		return
	}
	m.QueueRetries.Inc()
}

func (m *Metrics) IncrementQueueAbandoned() {
	if m == nil {
		return
	}
	m.QueueAbandoned.Inc()
}

func (m *Metrics) IncrementAuditAppends(result string) {
	if m == nil {
		return
	}
	m.AuditAppends.WithLabelValues(result).Inc()
}

func (m *Metrics) IncrementAuditAppendFailures() {
	if m == nil {
		return
	}
	m.AuditAppendFailures.Inc()
}

func (m *Metrics) IncrementMirror(outcome string) {
	if m == nil {
		return
	}
	m.MirrorPublished.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementMirrorDropped() {
	if m == nil {
		return
	}
	m.MirrorDropped.Inc()
}

func (m *Metrics) ObserveVerification(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.VerificationOutcomes.WithLabelValues(outcome).Inc()
	m.VerificationDuration.Observe(took.Seconds())
}

func (m *Metrics) IncrementDrainRuns(result string) {
	if m == nil {
		return
	}
	m.DrainRuns.WithLabelValues(result).Inc()
}

func (m *Metrics) IncrementDrainItems(outcome string) {
	if m == nil {
		return
	}
	m.DrainItems.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementConversion(operation, result string) {
	if m == nil {
		return
	}
	m.ConversionOutcomes.WithLabelValues(operation, result).Inc()
}
