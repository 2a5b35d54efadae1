// Package safety contains the emergency-stop safety core: the debounce
// filter, the emergency-stop state machine and the watchdog coordinator.
// It has no dependencies beyond the hal package. Time always comes from the
// injected hal.Clock.
package safety

import (
	"errors"

	"github.com/sweeney/estop-controller/internal/hal"
)

// State is the emergency-stop safety state.
type State uint8

const (
	StateUninitialized State = iota
	StateArmed
	StateTriggered
	StateResetPending
	StateFault
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateArmed:
		return "ARMED"
	case StateTriggered:
		return "TRIGGERED"
	case StateResetPending:
		return "RESET_PENDING"
	case StateFault:
		return "FAULT"
	default:
		return "CORRUPT"
	}
}

// Source identifies what requested an emergency stop.
type Source uint8

const (
	SourceUnknown Source = iota
	SourceButton
	SourceSoftware
	SourceCommunication
	SourceSafetyMonitor
	SourceMotorFault
	SourceEncoderFault
	SourceWatchdog
	SourceSystemFault
)

func (s Source) String() string {
	switch s {
	case SourceButton:
		return "BUTTON"
	case SourceSoftware:
		return "SOFTWARE"
	case SourceCommunication:
		return "COMMUNICATION"
	case SourceSafetyMonitor:
		return "SAFETY_MONITOR"
	case SourceMotorFault:
		return "MOTOR_FAULT"
	case SourceEncoderFault:
		return "ENCODER_FAULT"
	case SourceWatchdog:
		return "WATCHDOG"
	case SourceSystemFault:
		return "SYSTEM_FAULT"
	default:
		return "UNKNOWN"
	}
}

// Pins names the GPIO lines the emergency stop owns.
type Pins struct {
	Button hal.Pin // active-low input, pulled up
	LED    hal.Pin
	Relay1 hal.Pin
	Relay2 hal.Pin

	IRQPriority uint8
}

// Timing holds the duration thresholds, all in milliseconds.
type Timing struct {
	Debounce       uint32
	ResetConfirm   uint32
	StuckTimeout   uint32
	ReactionBudget uint32
	SelfTestDelay  uint32
}

// DefaultTiming returns the reference configuration.
func DefaultTiming() Timing {
	return Timing{
		Debounce:       50,
		ResetConfirm:   1000,
		StuckTimeout:   5000,
		ReactionBudget: 10,
		SelfTestDelay:  100,
	}
}

// Relay output levels.
const (
	RelayEngaged  = hal.High
	RelayReleased = hal.Low
)

// Statistics is the emergency-stop audit trail.
type Statistics struct {
	TriggerCount    uint32
	LastTriggerTime hal.Tick
	LastSource      Source
	// Overruns counts Process calls that arrived later than the reaction budget.
	Overruns uint32
	// MaxTickGap is the largest observed gap between Process calls in ms.
	MaxTickGap uint32
}

// Transition describes a state change, delivered to the observer.
type Transition struct {
	From   State
	To     State
	Source Source
	At     hal.Tick
}

func isParamErr(err error) bool {
	return errors.Is(err, hal.ErrInvalidPin)
}
