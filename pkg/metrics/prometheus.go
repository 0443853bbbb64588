// Package metrics provides Prometheus metrics for the live session service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Turn outcomes recorded by the scheduler.
const (
	OutcomeSuccess = "success"
	OutcomeTimeout = "timeout"
	OutcomeQuota   = "quota"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
	OutcomeDiscard = "discarded"
	ChannelSession = "session"
	ChannelNotify  = "notification"
	ChannelWatch   = "watch"
)

// Manager owns every collector of the service.
type Manager struct {
	namespace      string
	subsystem      string
	latencyBuckets []float64
	registry       prometheus.Registerer

	activeSessions      prometheus.Gauge
	turns               *prometheus.CounterVec
	agentLatency        prometheus.Histogram
	terminalStates      *prometheus.CounterVec
	openChannels        *prometheus.GaugeVec
	droppedEvents       *prometheus.CounterVec
	persistenceFailures prometheus.Counter
	finalCompatibility  prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:      "zmatch",
		subsystem:      "session",
		latencyBuckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		registry:       prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.activeSessions = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "active",
		Help:      "Number of sessions currently held in memory",
	})
	m.turns = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "turns_total",
		Help:      "Agent turns by participant and outcome",
	}, []string{"participant", "outcome"})
	m.agentLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "agent_latency_seconds",
		Help:      "Time spent waiting for an agent reply",
		Buckets:   m.latencyBuckets,
	})
	m.terminalStates = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "terminal_total",
		Help:      "Sessions reaching a terminal state by state and reason",
	}, []string{"state", "reason"})
	m.openChannels = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "open_channels",
		Help:      "Attached transport channels by kind",
	}, []string{"kind"})
	m.droppedEvents = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "dropped_events_total",
		Help:      "Outbound events dropped because a channel could not keep up",
	}, []string{"kind"})
	m.persistenceFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "persistence_failures_total",
		Help:      "Store writes that failed after retries",
	})
	m.finalCompatibility = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "final_compatibility",
		Help:      "Overall compatibility of finished sessions",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
	})
}

// SessionStarted increments the active session gauge.
func (m *Manager) SessionStarted() { m.activeSessions.Inc() }

// SessionEvicted decrements the active session gauge.
func (m *Manager) SessionEvicted() { m.activeSessions.Dec() }

// RecordTurn counts one turn attempt.
func (m *Manager) RecordTurn(participant, outcome string) {
	m.turns.WithLabelValues(participant, outcome).Inc()
}

// ObserveAgentLatency records how long an agent call took.
func (m *Manager) ObserveAgentLatency(d time.Duration) { m.agentLatency.Observe(d.Seconds()) }

// RecordTerminal counts a session reaching a terminal state.
func (m *Manager) RecordTerminal(state, reason string) {
	m.terminalStates.WithLabelValues(state, reason).Inc()
}

// ChannelOpened increments the open channel gauge.
func (m *Manager) ChannelOpened(kind string) { m.openChannels.WithLabelValues(kind).Inc() }

// ChannelClosed decrements the open channel gauge.
func (m *Manager) ChannelClosed(kind string) { m.openChannels.WithLabelValues(kind).Dec() }

// RecordDroppedEvent counts an event dropped for a slow consumer.
func (m *Manager) RecordDroppedEvent(kind string) { m.droppedEvents.WithLabelValues(kind).Inc() }

// RecordPersistenceFailure counts a store write abandoned after retries.
func (m *Manager) RecordPersistenceFailure() { m.persistenceFailures.Inc() }

// ObserveFinalCompatibility records the closing overall score of a session.
func (m *Manager) ObserveFinalCompatibility(overall float64) { m.finalCompatibility.Observe(overall) }

// Default returns the process-wide manager.
func Default() *Manager { return globalManager }

// GetRegistry returns the registry backing the default manager.
func GetRegistry() *prometheus.Registry { return customRegistry }
