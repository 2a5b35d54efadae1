// Package mqtt publishes emergency-stop events and receives remote commands,
// with an abstraction for testing.
package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sweeney/estop-controller/internal/hal"
	"github.com/sweeney/estop-controller/internal/safety"
)

// DefaultPrefix is the topic prefix used when none is configured.
const DefaultPrefix = "estop"

// Topics holds the MQTT topics derived from a prefix.
type Topics struct {
	Events  string // state transitions
	System  string // lifecycle events and heartbeats
	Command string // inbound trigger/reset requests
}

// NewTopics derives the topic set for prefix.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Topics{
		Events:  prefix + "/events",
		System:  prefix + "/system",
		Command: prefix + "/command",
	}
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a state transition to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event TransitionEvent) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// TransitionEvent is a safety state change stamped with wall-clock time.
type TransitionEvent struct {
	Timestamp    time.Time
	From         safety.State
	To           safety.State
	Source       safety.Source
	Tick         hal.Tick
	TriggerCount uint32
}

// NewTransitionEvent wraps an observer callback for publishing.
func NewTransitionEvent(tr safety.Transition, at time.Time, triggers uint32) TransitionEvent {
	return TransitionEvent{
		Timestamp:    at,
		From:         tr.From,
		To:           tr.To,
		Source:       tr.Source,
		Tick:         tr.At,
		TriggerCount: triggers,
	}
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	EStop EStopPayload `json:"estop"`
}

// EStopPayload contains the transition details.
type EStopPayload struct {
	Timestamp    string `json:"timestamp"`
	Event        string `json:"event"`
	From         string `json:"from"`
	Source       string `json:"source"`
	Active       bool   `json:"active"`
	TickMs       uint32 `json:"tick_ms"`
	TriggerCount uint32 `json:"trigger_count"`
}

// FormatPayload creates the JSON payload for a transition.
func FormatPayload(event TransitionEvent) ([]byte, error) {
	payload := Payload{
		EStop: EStopPayload{
			Timestamp:    event.Timestamp.UTC().Format(time.RFC3339),
			Event:        event.To.String(),
			From:         event.From.String(),
			Source:       event.Source.String(),
			Active:       event.To == safety.StateTriggered,
			TickMs:       uint32(event.Tick),
			TriggerCount: event.TriggerCount,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// Command is a remote request received on the command topic.
type Command string

const (
	CommandTrigger Command = "trigger"
	CommandReset   Command = "reset"
)

type commandPayload struct {
	Command string `json:"command"`
}

// ParseCommand decodes {"command":"trigger"} or {"command":"reset"}.
func ParseCommand(data []byte) (Command, error) {
	var p commandPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return "", fmt.Errorf("decode command: %w", err)
	}
	switch c := Command(strings.ToLower(strings.TrimSpace(p.Command))); c {
	case CommandTrigger, CommandReset:
		return c, nil
	default:
		return "", fmt.Errorf("unknown command %q", p.Command)
	}
}
