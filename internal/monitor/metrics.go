// Package monitor exposes the safety core as Prometheus metrics.
package monitor

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/estop-controller/internal/safety"
)

// Metrics holds the collectors on a private registry so several instances
// can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	State         prometheus.Gauge
	Triggers      *prometheus.CounterVec
	Transitions   *prometheus.CounterVec
	Errors        *prometheus.CounterVec
	Overruns      prometheus.Gauge
	MaxTickGap    prometheus.Gauge
	WatchdogStats *prometheus.GaugeVec

	mu           sync.Mutex
	lastTriggers uint32
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "estop_state",
			Help: "Current emergency-stop state (0=uninitialized 1=armed 2=triggered 3=reset_pending 4=fault)",
		}),
		Triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "estop_triggers_total",
			Help: "Emergency-stop trigger requests, by source",
		}, []string{"source"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "estop_transitions_total",
			Help: "Emergency-stop state transitions",
		}, []string{"from", "to"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "estop_errors_total",
			Help: "Errors returned by the safety core, by operation and result code",
		}, []string{"op", "code"}),
		Overruns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "estop_tick_overruns",
			Help: "Process calls that arrived later than the reaction budget",
		}),
		MaxTickGap: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "estop_max_tick_gap_ms",
			Help: "Largest observed gap between Process calls",
		}),
		WatchdogStats: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "estop_watchdog",
			Help: "Watchdog coordinator counters",
		}, []string{"counter"}),
	}
	m.registry.MustRegister(m.State, m.Triggers, m.Transitions, m.Errors, m.Overruns, m.MaxTickGap, m.WatchdogStats)
	return m
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTransition records a state change.
func (m *Metrics) ObserveTransition(tr safety.Transition) {
	m.Transitions.WithLabelValues(tr.From.String(), tr.To.String()).Inc()
	m.State.Set(float64(tr.To))
}

// ObserveStatistics mirrors the core counters. New triggers since the last
// call are attributed to the most recent source.
func (m *Metrics) ObserveStatistics(state safety.State, s safety.Statistics) {
	m.mu.Lock()
	if s.TriggerCount > m.lastTriggers {
		m.Triggers.WithLabelValues(s.LastSource.String()).Add(float64(s.TriggerCount - m.lastTriggers))
	}
	m.lastTriggers = s.TriggerCount
	m.mu.Unlock()

	m.State.Set(float64(state))
	m.Overruns.Set(float64(s.Overruns))
	m.MaxTickGap.Set(float64(s.MaxTickGap))
}

// ObserveWatchdog mirrors the watchdog coordinator counters.
func (m *Metrics) ObserveWatchdog(s safety.WatchdogStatistics) {
	m.WatchdogStats.WithLabelValues("refresh").Set(float64(s.RefreshCount))
	m.WatchdogStats.WithLabelValues("missed").Set(float64(s.MissedCount))
	m.WatchdogStats.WithLabelValues("timeout").Set(float64(s.TimeoutCount))
	m.WatchdogStats.WithLabelValues("max_interval_ms").Set(float64(s.MaxInterval))
}

// ObserveError counts a non-nil error from op.
func (m *Metrics) ObserveError(op string, err error) {
	if err == nil {
		return
	}
	m.Errors.WithLabelValues(op, safety.CodeOf(err).String()).Inc()
}
