// Package metrics provides Prometheus metrics for the call lifecycle.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "callflow"

// Metrics holds the service's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Hangup metrics
	HangupsScheduled *prometheus.CounterVec
	Hangups          *prometheus.CounterVec

	// Recording metrics
	EgressResults *prometheus.CounterVec

	// Reconciliation metrics
	Uploads            *prometheus.CounterVec
	ReconcileArtifacts *prometheus.CounterVec
	ReconcileDuration  prometheus.Histogram

	ActiveSessions prometheus.Gauge
}

// New registers every collector on reg. Pass prometheus.DefaultRegisterer in
// main and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HangupsScheduled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hangups_scheduled_total",
			Help:      "Hangup timers scheduled, by trigger",
		}, []string{"trigger"}),
		Hangups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hangups_total",
			Help:      "Hangup attempts, by outcome",
		}, []string{"outcome"}),
		EgressResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "egress_results_total",
			Help:      "Recording jobs awaited, by result",
		}, []string{"result"}),
		Uploads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "CRM uploads, by path (hot|cold), kind (recording|call_data) and outcome",
		}, []string{"path", "kind", "outcome"}),
		ReconcileArtifacts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_artifacts_total",
			Help:      "Conversation artifacts seen by the directory sweep, by result",
		}, []string{"result"}),
		ReconcileDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_run_duration_seconds",
			Help:      "Duration of directory sweep runs",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Live call sessions",
		}),
	}
}

func (m *Metrics) HangupScheduled(trigger string) {
	if m == nil {
		return
	}
	m.HangupsScheduled.WithLabelValues(trigger).Inc()
}

func (m *Metrics) Hangup(outcome string) {
	if m == nil {
		return
	}
	m.Hangups.WithLabelValues(outcome).Inc()
}

func (m *Metrics) EgressResult(result string) {
	if m == nil {
		return
	}
	m.EgressResults.WithLabelValues(result).Inc()
}

func (m *Metrics) Upload(path, kind string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.Uploads.WithLabelValues(path, kind, outcome).Inc()
}

func (m *Metrics) ReconcileArtifact(result string) {
	if m == nil {
		return
	}
	m.ReconcileArtifacts.WithLabelValues(result).Inc()
}

func (m *Metrics) ReconcileRun(d time.Duration) {
	if m == nil {
		return
	}
	m.ReconcileDuration.Observe(d.Seconds())
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}
