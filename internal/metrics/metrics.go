// Package metrics defines the Prometheus collectors of the anchoring service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "payanchor"

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	inbound       *prometheus.CounterVec
	outcomes      *prometheus.CounterVec
	anchorLatency prometheus.Histogram
	confirmations *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		inbound: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_commands_total",
			Help:      "Inbound messages by handling result.",
		}, []string{"result"}),
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_outcomes_total",
			Help:      "Pipeline runs by final status and failure kind.",
		}, []string{"status", "kind"}),
		anchorLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "anchor_duration_seconds",
			Help:      "Time from anchor request to confirmation or failure.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		confirmations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciler_confirmations_total",
			Help:      "Intents advanced to SUCCESS by confirmation mode.",
		}, []string{"mode"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Outbound notifications by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) Inbound(result string) {
	if m != nil {
		m.inbound.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Outcome(status, kind string) {
	if m != nil {
		m.outcomes.WithLabelValues(status, kind).Inc()
	}
}

func (m *Metrics) AnchorDuration(seconds float64) {
	if m != nil {
		m.anchorLatency.Observe(seconds)
	}
}

func (m *Metrics) Confirmed(mode string, n int) {
	if m != nil && n > 0 {
		m.confirmations.WithLabelValues(mode).Add(float64(n))
	}
}

func (m *Metrics) Notification(result string) {
	if m != nil {
		m.notifications.WithLabelValues(result).Inc()
	}
}
