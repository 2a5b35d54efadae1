// Package hal is the hardware abstraction boundary consumed by the safety core.
// The real implementation uses the Linux GPIO character device and watchdog
// device. The fake implementation allows deterministic simulation in tests.
package hal

import "errors"

// ErrInvalidPin is returned when a pin identifier is outside the range the
// board exposes.
var ErrInvalidPin = errors.New("hal: invalid pin")

// ErrNotConfigured is returned when a pin is used before Configure.
var ErrNotConfigured = errors.New("hal: pin not configured")

// Pin identifies a hardware GPIO line.
type Pin uint16

// Level is a digital pin level.
type Level uint8

const (
	Low  Level = 0
	High Level = 1
)

func (l Level) String() string {
	if l == High {
		return "HIGH"
	}
	return "LOW"
}

// Mode is the pin direction.
type Mode uint8

const (
	ModeInput Mode = iota
	ModeOutput
)

// Pull is the pin bias configuration.
type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// Speed is the output slew-rate class. Boards without slew-rate control
// accept and ignore it.
type Speed uint8

const (
	SpeedLow Speed = iota
	SpeedMedium
	SpeedHigh
)

// Trigger selects which edges raise an interrupt.
type Trigger uint8

const (
	TriggerRising Trigger = iota
	TriggerFalling
	TriggerBoth
)

// InterruptHandler is called from the interrupt-equivalent context with the
// pin and the tick at which the edge was observed.
type InterruptHandler func(pin Pin, at Tick)

// GPIO configures, drives and samples digital pins.
type GPIO interface {
	Configure(pin Pin, mode Mode, pull Pull, speed Speed) error
	Write(pin Pin, level Level) error
	Read(pin Pin) (Level, error)
	EnableInterrupt(pin Pin, trigger Trigger, priority uint8, handler InterruptHandler) error
}

// Clock provides the millisecond tick and the blocking delay primitive.
type Clock interface {
	// TickMS returns a monotonic millisecond counter that wraps at 2^32.
	TickMS() Tick
	// DelayMS blocks for ms milliseconds.
	DelayMS(ms uint32)
}

// Watchdog is an independent hardware timer that resets the system if it is
// not refreshed within its timeout.
type Watchdog interface {
	Init(timeoutMS uint32) error
	Refresh() error
	// TimeoutMS reads back the timeout the hardware is actually running with.
	TimeoutMS() (uint32, error)
}
