package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for Pacer
type Metrics struct {
	MessagesSentTotal   *prometheus.CounterVec
	MessagesFailedTotal *prometheus.CounterVec

	CampaignsActive        prometheus.Gauge
	CampaignsFinishedTotal *prometheus.CounterVec

	SendDurationSeconds prometheus.Histogram

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		MessagesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pacer_messages_sent_total",
				Help: "Total number of successfully sent campaign messages",
			},
			[]string{"message_type"},
		),
		MessagesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pacer_messages_failed_total",
				Help: "Total number of failed campaign messages",
			},
			[]string{"error_type"},
		),
		CampaignsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pacer_campaigns_active",
				Help: "Number of campaigns with an active processing queue",
			},
		),
		CampaignsFinishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pacer_campaigns_finished_total",
				Help: "Total number of campaigns that reached a terminal status",
			},
			[]string{"status"},
		),
		SendDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pacer_send_duration_seconds",
				Help:    "Duration of single message dispatch calls in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.MessagesSentTotal,
		m.MessagesFailedTotal,
		m.CampaignsActive,
		m.CampaignsFinishedTotal,
		m.SendDurationSeconds,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncMessagesSent increments the sent message counter
func IncMessagesSent(messageType string) {
	m := Global()
	if m != nil {
		m.MessagesSentTotal.WithLabelValues(messageType).Inc()
	}
}

// IncMessagesFailed increments the failed message counter
func IncMessagesFailed(errorType string) {
	m := Global()
	if m != nil {
		m.MessagesFailedTotal.WithLabelValues(errorType).Inc()
	}
}

// IncCampaignsActive increments the active campaign gauge
func IncCampaignsActive() {
	m := Global()
	if m != nil {
		m.CampaignsActive.Inc()
	}
}

// DecCampaignsActive decrements the active campaign gauge
func DecCampaignsActive() {
	m := Global()
	if m != nil {
		m.CampaignsActive.Dec()
	}
}

// IncCampaignsFinished increments the finished campaign counter
func IncCampaignsFinished(status string) {
	m := Global()
	if m != nil {
		m.CampaignsFinishedTotal.WithLabelValues(status).Inc()
	}
}

// ObserveSendDuration records a dispatch duration
func ObserveSendDuration(seconds float64) {
	m := Global()
	if m != nil {
		m.SendDurationSeconds.Observe(seconds)
	}
}
