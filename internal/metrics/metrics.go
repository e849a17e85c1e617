// Package metrics holds the Prometheus metrics of the voice agent. Every
// Record method is safe to call on a nil *Metrics so components can run
// without metrics in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voice_agent"

// Metrics holds all Prometheus metrics for the agent.
type Metrics struct {
	registry *prometheus.Registry

	// Lifecycle
	LifecycleState  *prometheus.GaugeVec
	LifecycleErrors *prometheus.CounterVec
	TeardownErrors  *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Conversation
	StateTransitions *prometheus.CounterVec
	FirstWordLatency prometheus.Histogram
	ProviderLatency  *prometheus.HistogramVec
	Interruptions    prometheus.Counter
	DroppedFrames    *prometheus.CounterVec
}

// New creates a Metrics instance on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		LifecycleState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "lifecycle_state",
				Help:      "1 for the current session lifecycle state, 0 otherwise",
			},
			[]string{"state"},
		),
		LifecycleErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lifecycle_errors_total",
				Help:      "Session lifecycle failures by phase",
			},
			[]string{"phase"},
		),
		TeardownErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "teardown_errors_total",
				Help:      "Teardown failures by step",
			},
			[]string{"step"},
		),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Time from connect to shutdown",
			Buckets:   []float64{1, 10, 30, 60, 300, 600, 1800, 3600},
		}),
		StateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversation_transitions_total",
				Help:      "Conversation state transitions",
			},
			[]string{"from", "to"},
		),
		FirstWordLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_word_latency_seconds",
			Help:      "Time from the end of the user's turn to the first reply frame",
			Buckets:   []float64{0.25, 0.5, 0.75, 1, 1.5, 2, 3, 5},
		}),
		ProviderLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_latency_seconds",
				Help:      "Provider call latency by stage",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"stage"},
		),
		Interruptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interruptions_total",
			Help:      "Replies cut short by user speech",
		}),
		DroppedFrames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dropped_frames_total",
				Help:      "Audio frames dropped by direction",
			},
			[]string{"direction"},
		),
	}

	registry.MustRegister(
		m.LifecycleState,
		m.LifecycleErrors,
		m.TeardownErrors,
		m.SessionDuration,
		m.StateTransitions,
		m.FirstWordLatency,
		m.ProviderLatency,
		m.Interruptions,
		m.DroppedFrames,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordLifecycleState marks state as current and from as left.
func (m *Metrics) RecordLifecycleState(from, to string) {
	if m == nil {
		return
	}
	if from != "" {
		m.LifecycleState.WithLabelValues(from).Set(0)
	}
	m.LifecycleState.WithLabelValues(to).Set(1)
}

// RecordLifecycleError counts a failed phase.
func (m *Metrics) RecordLifecycleError(phase string) {
	if m == nil {
		return
	}
	m.LifecycleErrors.WithLabelValues(phase).Inc()
}

// RecordTeardownError counts a failed teardown step.
func (m *Metrics) RecordTeardownError(step string) {
	if m == nil {
		return
	}
	m.TeardownErrors.WithLabelValues(step).Inc()
}

// RecordSession records a finished session.
func (m *Metrics) RecordSession(d time.Duration) {
	if m == nil {
		return
	}
	m.SessionDuration.Observe(d.Seconds())
}

// RecordTransition counts a conversation state change.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(from, to).Inc()
}

// RecordFirstWord records reply latency.
func (m *Metrics) RecordFirstWord(d time.Duration) {
	if m == nil {
		return
	}
	m.FirstWordLatency.Observe(d.Seconds())
}

// RecordProvider records the latency of one provider call.
func (m *Metrics) RecordProvider(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.ProviderLatency.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordInterruption counts an interrupted reply.
func (m *Metrics) RecordInterruption() {
	if m == nil {
		return
	}
	m.Interruptions.Inc()
}

// RecordDroppedFrame counts a dropped audio frame; direction is "in" or "out".
func (m *Metrics) RecordDroppedFrame(direction string) {
	if m == nil {
		return
	}
	m.DroppedFrames.WithLabelValues(direction).Inc()
}
