package safety

import "github.com/sweeney/estop-controller/internal/hal"

// blink is a periodic LED pattern: on for the first onMS of every periodMS.
type blink struct {
	periodMS uint32
	onMS     uint32
}

var (
	armedBlink = blink{periodMS: 200, onMS: 100}
	resetBlink = blink{periodMS: 200, onMS: 100}
	faultBlink = blink{periodMS: 100, onMS: 50}
)

func (b blink) level(now hal.Tick) hal.Level {
	if uint32(now)%b.periodMS < b.onMS {
		return hal.High
	}
	return hal.Low
}

// LEDLevel returns the indicator level for state at time now. It is a pure
// function of its arguments and is recomputed on every tick.
func LEDLevel(state State, now hal.Tick) hal.Level {
	switch state {
	case StateArmed:
		return armedBlink.level(now)
	case StateTriggered:
		return hal.High
	case StateResetPending:
		return resetBlink.level(now)
	case StateFault:
		return faultBlink.level(now)
	default:
		return hal.Low
	}
}
