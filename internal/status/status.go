// Package status provides a thread-safe status tracker for the estopd daemon.
// The loop goroutine writes it; HTTP handlers and MQTT heartbeats read it.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/estop-controller/internal/safety"
)

// Config contains daemon configuration for display.
type Config struct {
	TickMs         int64
	DebounceMs     int64
	ResetConfirmMs int64
	StuckTimeoutMs int64
	WatchdogMs     int64
	Broker         string
	HTTPAddr       string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	State          safety.State
	ButtonPressed  bool
	Stats          safety.Statistics
	Watchdog       safety.WatchdogStatistics
	Health         safety.Code
	WatchdogHealth safety.Code
	StartTime      time.Time
	Now            time.Time
	LastTransition time.Time
	MQTTConnected  bool
	Config         Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update sets the safety state, button and counters.
// Called from runLoop on every status interval.
func (t *Tracker) Update(state safety.State, button bool, stats safety.Statistics, wd safety.WatchdogStatistics) {
	t.mu.Lock()
	t.snap.State = state
	t.snap.ButtonPressed = button
	t.snap.Stats = stats
	t.snap.Watchdog = wd
	t.mu.Unlock()
}

// SetHealth records the latest health check results.
func (t *Tracker) SetHealth(core, watchdog safety.Code) {
	t.mu.Lock()
	t.snap.Health = core
	t.snap.WatchdogHealth = watchdog
	t.mu.Unlock()
}

// SetTransition records the wall-clock time of the last state change.
func (t *Tracker) SetTransition(at time.Time) {
	t.mu.Lock()
	t.snap.LastTransition = at
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
