// Package config loads the estopd YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/estop-controller/internal/hal"
	"github.com/sweeney/estop-controller/internal/safety"
)

// DefaultPath is where the daemon looks for its configuration.
const DefaultPath = "/etc/estopd.yaml"

// Config is the full daemon configuration.
type Config struct {
	GPIO     GPIO     `yaml:"gpio"`
	Timing   Timing   `yaml:"timing"`
	Watchdog Watchdog `yaml:"watchdog"`
	MQTT     MQTT     `yaml:"mqtt"`
	HTTP     HTTP     `yaml:"http"`
}

// GPIO selects the chip and line offsets (BCM numbering on a Pi).
type GPIO struct {
	Chip        string `yaml:"chip"`
	Button      int    `yaml:"button"`
	LED         int    `yaml:"led"`
	Relay1      int    `yaml:"relay1"`
	Relay2      int    `yaml:"relay2"`
	IRQPriority int    `yaml:"irq_priority"`
}

// Timing holds the safety thresholds in milliseconds.
type Timing struct {
	TickMS           uint32 `yaml:"tick_ms"`
	DebounceMS       uint32 `yaml:"debounce_ms"`
	ResetConfirmMS   uint32 `yaml:"reset_confirm_ms"`
	StuckTimeoutMS   uint32 `yaml:"stuck_timeout_ms"`
	ReactionBudgetMS uint32 `yaml:"reaction_budget_ms"`
	HealthIntervalMS uint32 `yaml:"health_interval_ms"`
	SelfTestDelayMS  uint32 `yaml:"self_test_delay_ms"`
}

// Watchdog configures the hardware watchdog. An empty Device uses a
// software stand-in.
type Watchdog struct {
	Device    string `yaml:"device"`
	TimeoutMS uint32 `yaml:"timeout_ms"`
	LateMS    uint32 `yaml:"late_ms"`
	RefreshMS uint32 `yaml:"refresh_ms"`
}

// MQTT configures event publishing. An empty Broker disables MQTT.
type MQTT struct {
	Broker              string        `yaml:"broker"`
	ClientID            string        `yaml:"client_id"`
	TopicPrefix         string        `yaml:"topic_prefix"`
	TriggerOnDisconnect bool          `yaml:"trigger_on_disconnect"`
	Heartbeat           time.Duration `yaml:"heartbeat"`
}

// HTTP configures the status server. An empty Addr disables it.
type HTTP struct {
	Addr string `yaml:"addr"`
}

// Default returns the reference configuration.
func Default() Config {
	t := safety.DefaultTiming()
	return Config{
		GPIO: GPIO{
			Chip:   "gpiochip0",
			Button: 17,
			LED:    27,
			Relay1: 22,
			Relay2: 23,
		},
		Timing: Timing{
			TickMS:           1,
			DebounceMS:       t.Debounce,
			ResetConfirmMS:   t.ResetConfirm,
			StuckTimeoutMS:   t.StuckTimeout,
			ReactionBudgetMS: t.ReactionBudget,
			HealthIntervalMS: 100,
			SelfTestDelayMS:  t.SelfTestDelay,
		},
		Watchdog: Watchdog{
			Device:    "/dev/watchdog",
			TimeoutMS: 1000,
			LateMS:    750,
			RefreshMS: 100,
		},
		MQTT: MQTT{
			Broker:              "tcp://localhost:1883",
			ClientID:            "estopd",
			TopicPrefix:         "estop",
			TriggerOnDisconnect: true,
			Heartbeat:           15 * time.Minute,
		},
		HTTP: HTTP{Addr: ":8080"},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, cfg.Validate()
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := Parse(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Parse decodes YAML into cfg, rejecting unknown keys.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// Validate checks the relationships between thresholds and pins.
func (c Config) Validate() error {
	var errs []error

	t := c.Timing
	if t.TickMS == 0 || t.DebounceMS == 0 || t.ResetConfirmMS == 0 || t.StuckTimeoutMS == 0 || t.HealthIntervalMS == 0 {
		errs = append(errs, errors.New("timing values must be nonzero"))
	}
	if t.DebounceMS >= t.ResetConfirmMS {
		errs = append(errs, fmt.Errorf("debounce_ms %d must be below reset_confirm_ms %d", t.DebounceMS, t.ResetConfirmMS))
	}
	if t.ResetConfirmMS >= t.StuckTimeoutMS {
		errs = append(errs, fmt.Errorf("reset_confirm_ms %d must be below stuck_timeout_ms %d", t.ResetConfirmMS, t.StuckTimeoutMS))
	}
	if t.ReactionBudgetMS != 0 && t.ReactionBudgetMS < t.TickMS {
		errs = append(errs, fmt.Errorf("reaction_budget_ms %d must be at least tick_ms %d", t.ReactionBudgetMS, t.TickMS))
	}

	w := c.Watchdog
	if w.LateMS == 0 || w.LateMS >= w.TimeoutMS {
		errs = append(errs, fmt.Errorf("watchdog late_ms %d must be nonzero and below timeout_ms %d", w.LateMS, w.TimeoutMS))
	}
	if w.RefreshMS == 0 || w.RefreshMS >= w.LateMS {
		errs = append(errs, fmt.Errorf("watchdog refresh_ms %d must be nonzero and below late_ms %d", w.RefreshMS, w.LateMS))
	}

	g := c.GPIO
	seen := map[int]string{}
	for _, p := range []struct {
		name string
		pin  int
	}{{"button", g.Button}, {"led", g.LED}, {"relay1", g.Relay1}, {"relay2", g.Relay2}} {
		if p.pin < 0 || p.pin > 0xffff {
			errs = append(errs, fmt.Errorf("gpio %s: pin %d out of range", p.name, p.pin))
			continue
		}
		if other, ok := seen[p.pin]; ok {
			errs = append(errs, fmt.Errorf("gpio %s and %s share pin %d", other, p.name, p.pin))
		}
		seen[p.pin] = p.name
	}
	if g.IRQPriority < 0 || g.IRQPriority > 255 {
		errs = append(errs, fmt.Errorf("gpio irq_priority %d out of range", g.IRQPriority))
	}

	if c.MQTT.Broker != "" && c.MQTT.TopicPrefix == "" {
		errs = append(errs, errors.New("mqtt topic_prefix must be set when broker is set"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Pins converts the GPIO section for the safety core.
func (c Config) Pins() safety.Pins {
	return safety.Pins{
		Button:      hal.Pin(c.GPIO.Button),
		LED:         hal.Pin(c.GPIO.LED),
		Relay1:      hal.Pin(c.GPIO.Relay1),
		Relay2:      hal.Pin(c.GPIO.Relay2),
		IRQPriority: uint8(c.GPIO.IRQPriority),
	}
}

// SafetyTiming converts the timing section for the safety core.
func (c Config) SafetyTiming() safety.Timing {
	return safety.Timing{
		Debounce:       c.Timing.DebounceMS,
		ResetConfirm:   c.Timing.ResetConfirmMS,
		StuckTimeout:   c.Timing.StuckTimeoutMS,
		ReactionBudget: c.Timing.ReactionBudgetMS,
		SelfTestDelay:  c.Timing.SelfTestDelayMS,
	}
}

// WatchdogConfig converts the watchdog section for the coordinator.
func (c Config) WatchdogConfig() safety.WatchdogConfig {
	return safety.WatchdogConfig{
		TimeoutMS: c.Watchdog.TimeoutMS,
		LateMS:    c.Watchdog.LateMS,
	}
}
