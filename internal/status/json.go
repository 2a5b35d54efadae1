package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/estop-controller/internal/safety"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event          string       `json:"event,omitempty"`
	Reason         string       `json:"reason,omitempty"`
	State          string       `json:"state"`
	Active         bool         `json:"active"`
	ButtonPressed  bool         `json:"button_pressed"`
	LastSource     string       `json:"last_source"`
	Health         string       `json:"health"`
	WatchdogHealth string       `json:"watchdog_health"`
	UptimeSeconds  int64        `json:"uptime_seconds"`
	StartTime      string       `json:"start_time"`
	Timestamp      string       `json:"timestamp"`
	LastTransition string       `json:"last_transition,omitempty"`
	MQTT           MQTTStatus   `json:"mqtt"`
	Triggers       TriggersJSON `json:"triggers"`
	Watchdog       WatchdogJSON `json:"watchdog"`
	Config         ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// TriggersJSON is the emergency-stop audit trail.
type TriggersJSON struct {
	Count         uint32 `json:"count"`
	LastTriggerMs uint32 `json:"last_trigger_tick_ms"`
	Overruns      uint32 `json:"tick_overruns"`
	MaxTickGapMs  uint32 `json:"max_tick_gap_ms"`
}

// WatchdogJSON is the watchdog coordinator counters.
type WatchdogJSON struct {
	Refreshes     uint32 `json:"refreshes"`
	Missed        uint32 `json:"missed"`
	Timeouts      uint32 `json:"timeouts"`
	MaxIntervalMs uint32 `json:"max_interval_ms"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	TickMs         int64  `json:"tick_ms"`
	DebounceMs     int64  `json:"debounce_ms"`
	ResetConfirmMs int64  `json:"reset_confirm_ms"`
	StuckTimeoutMs int64  `json:"stuck_timeout_ms"`
	WatchdogMs     int64  `json:"watchdog_ms"`
	Broker         string `json:"broker"`
	HTTPAddr       string `json:"http_addr"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		State:          snap.State.String(),
		Active:         snap.State == safety.StateTriggered,
		ButtonPressed:  snap.ButtonPressed,
		LastSource:     snap.Stats.LastSource.String(),
		Health:         snap.Health.String(),
		WatchdogHealth: snap.WatchdogHealth.String(),
		UptimeSeconds:  int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:      snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:      snap.Now.UTC().Format(time.RFC3339),
		MQTT:           MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Triggers: TriggersJSON{
			Count:         snap.Stats.TriggerCount,
			LastTriggerMs: uint32(snap.Stats.LastTriggerTime),
			Overruns:      snap.Stats.Overruns,
			MaxTickGapMs:  snap.Stats.MaxTickGap,
		},
		Watchdog: WatchdogJSON{
			Refreshes:     snap.Watchdog.RefreshCount,
			Missed:        snap.Watchdog.MissedCount,
			Timeouts:      snap.Watchdog.TimeoutCount,
			MaxIntervalMs: snap.Watchdog.MaxInterval,
		},
		Config: ConfigJSON{
			TickMs:         snap.Config.TickMs,
			DebounceMs:     snap.Config.DebounceMs,
			ResetConfirmMs: snap.Config.ResetConfirmMs,
			StuckTimeoutMs: snap.Config.StuckTimeoutMs,
			WatchdogMs:     snap.Config.WatchdogMs,
			Broker:         snap.Config.Broker,
			HTTPAddr:       snap.Config.HTTPAddr,
		},
	}
	if !snap.LastTransition.IsZero() {
		inner.LastTransition = snap.LastTransition.UTC().Format(time.RFC3339)
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
