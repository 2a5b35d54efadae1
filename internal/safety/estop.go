package safety

import (
	"errors"
	"fmt"

	"github.com/sweeney/estop-controller/internal/hal"
)

// event drives the transition table.
type event uint8

const (
	evInit event = iota
	evTrigger
	evReset
	evConfirm
)

// transitions is the complete state × event table. Anything missing is an
// invalid transition and forces StateFault.
var transitions = map[State]map[event]State{
	StateUninitialized: {evInit: StateArmed},
	StateArmed:         {evTrigger: StateTriggered},
	StateTriggered:     {evTrigger: StateTriggered, evReset: StateResetPending},
	StateResetPending:  {evTrigger: StateTriggered, evConfirm: StateArmed},
	StateFault:         {evTrigger: StateTriggered},
}

// EmergencyStop is the emergency-stop state machine. It owns the button
// input, the LED indicator and two independent safety relays.
//
// All methods must be called from a single goroutine (the periodic caller).
// The only state touched from the interrupt handler is the debounce
// reference, which is atomic.
type EmergencyStop struct {
	gpio     hal.GPIO
	clock    hal.Clock
	pins     Pins
	timing   Timing
	observer func(Transition)

	state           State
	lastSource      Source
	stateEntry      hal.Tick
	debounce        *Debouncer
	triggerCount    uint32
	lastTriggerTime hal.Tick
	buttonDebounced bool
	engagePending   bool
	initialized     bool

	lastProcess hal.Tick
	processed   bool
	overruns    uint32
	maxGap      uint32
}

// NewEmergencyStop creates an uninitialized emergency stop. Call Init before
// any other method.
func NewEmergencyStop(gpio hal.GPIO, clock hal.Clock, pins Pins, timing Timing) *EmergencyStop {
	return &EmergencyStop{
		gpio:   gpio,
		clock:  clock,
		pins:   pins,
		timing: timing,
	}
}

// SetObserver registers fn to be called synchronously on every state change.
func (e *EmergencyStop) SetObserver(fn func(Transition)) {
	e.observer = fn
}

// Init resets the context, configures the hardware and arms the stop.
// On any hardware failure it returns that failure and stays uninitialized.
// If the button is held it leaves the relays engaged and refuses to arm.
func (e *EmergencyStop) Init() error {
	if e == nil || e.gpio == nil || e.clock == nil {
		return ErrNullPointer
	}

	observer := e.observer
	*e = EmergencyStop{
		gpio:     e.gpio,
		clock:    e.clock,
		pins:     e.pins,
		timing:   e.timing,
		observer: observer,
	}

	now := e.clock.TickMS()
	d := NewDebouncer(e.timing.Debounce, now)

	if err := e.gpio.Configure(e.pins.Button, hal.ModeInput, hal.PullUp, hal.SpeedLow); err != nil {
		return hwFault("configure button", err)
	}
	onEdge := func(_ hal.Pin, at hal.Tick) { d.MarkEdge(at) }
	if err := e.gpio.EnableInterrupt(e.pins.Button, hal.TriggerFalling, e.pins.IRQPriority, onEdge); err != nil {
		return hwFault("enable button interrupt", err)
	}
	level, err := e.gpio.Read(e.pins.Button)
	if err != nil {
		return hwFault("read button", err)
	}
	held := pressed(level)
	for _, out := range []struct {
		name string
		pin  hal.Pin
	}{
		{"led", e.pins.LED},
		{"relay 1", e.pins.Relay1},
		{"relay 2", e.pins.Relay2},
	} {
		if err := e.gpio.Configure(out.pin, hal.ModeOutput, hal.PullNone, hal.SpeedLow); err != nil {
			return hwFault("configure "+out.name, err)
		}
	}
	if held {
		// Configuring the outputs drove them Low.
		err := errors.Join(fmt.Errorf("%w: button pressed at init", ErrHardwareFault), e.setRelays(RelayEngaged))
		if lerr := e.gpio.Write(e.pins.LED, hal.High); lerr != nil {
			err = errors.Join(err, hwFault("write led", lerr))
		}
		return err
	}
	if err := e.setRelays(RelayReleased); err != nil {
		return err
	}
	if err := e.gpio.Write(e.pins.LED, hal.Low); err != nil {
		return hwFault("write led", err)
	}

	e.debounce = d
	e.initialized = true
	return e.fire(evInit, SourceUnknown, e.clock.TickMS())
}

// Execute requests an emergency stop from source. The audit trail is
// recorded first, then both relays are engaged, then the state becomes
// Triggered. If engaging a relay fails the error is returned and the state
// is left unchanged; the trigger is still counted and Process keeps retrying
// the engage without counting it again.
func (e *EmergencyStop) Execute(source Source) error {
	if e == nil {
		return ErrNullPointer
	}
	if !e.initialized {
		return ErrNotInitialized
	}

	now := e.clock.TickMS()
	e.lastSource = source
	e.triggerCount++
	e.lastTriggerTime = now
	return e.engage(now)
}

func (e *EmergencyStop) engage(now hal.Tick) error {
	if err := e.setRelays(RelayEngaged); err != nil {
		e.engagePending = true
		return err
	}
	e.engagePending = false
	return e.fire(evTrigger, e.lastSource, now)
}

// Reset starts recovery from Triggered. It refuses while the physical
// button is still held.
func (e *EmergencyStop) Reset() error {
	if e == nil {
		return ErrNullPointer
	}
	if !e.initialized {
		return ErrNotInitialized
	}
	if e.state != StateTriggered {
		return fmt.Errorf("%w: reset from %s", ErrInvalidState, e.state)
	}

	level, err := e.gpio.Read(e.pins.Button)
	if err != nil {
		return hwFault("read button", err)
	}
	if pressed(level) {
		return fmt.Errorf("%w: button still pressed", ErrHardwareFault)
	}
	now := e.clock.TickMS()
	e.debounce.Reset(now)
	e.buttonDebounced = false
	return e.fire(evReset, e.lastSource, now)
}

// Process is the periodic tick. It filters the button, evaluates the state,
// actuates the outputs and always refreshes the LED last.
func (e *EmergencyStop) Process() error {
	if e == nil {
		return ErrNullPointer
	}
	if !e.initialized {
		return ErrNotInitialized
	}

	now := e.clock.TickMS()
	e.trackCadence(now)

	var result error
	was := e.buttonDebounced
	level, err := e.gpio.Read(e.pins.Button)
	if err != nil {
		result = hwFault("read button", err)
	} else {
		e.buttonDebounced = e.debounce.Update(pressed(level), now)
	}
	// A held button is one trigger; only the press edge counts.
	edge := e.buttonDebounced && !was

	switch e.state {
	case StateArmed:
		if edge {
			result = errors.Join(result, e.Execute(SourceButton))
		} else if e.engagePending {
			result = errors.Join(result, e.engage(now))
		}
	case StateTriggered:
		if e.engagePending {
			result = errors.Join(result, e.engage(now))
		}
	case StateResetPending:
		if edge {
			result = errors.Join(result, e.Execute(SourceButton))
			break
		}
		if e.engagePending {
			result = errors.Join(result, e.engage(now))
			break
		}
		if hal.Elapsed(now, e.stateEntry) > e.timing.ResetConfirm {
			if err := e.setRelays(RelayReleased); err != nil {
				result = errors.Join(result, err)
				break
			}
			result = errors.Join(result, e.fire(evConfirm, e.lastSource, now))
		}
	case StateFault:
		result = errors.Join(result, fmt.Errorf("%w: in %s", ErrInvalidState, e.state))
	default:
		bad := e.state
		e.enterFault(now)
		result = errors.Join(result, fmt.Errorf("%w: corrupt state %d", ErrInvalidState, uint8(bad)))
	}

	if err := e.gpio.Write(e.pins.LED, LEDLevel(e.state, e.clock.TickMS())); err != nil {
		result = errors.Join(result, hwFault("write led", err))
	}
	return result
}

// State returns the current safety state.
func (e *EmergencyStop) State() State {
	return e.state
}

// IsActive reports whether the stop is Triggered.
func (e *EmergencyStop) IsActive() bool {
	return e.state == StateTriggered
}

// LastSource returns the most recent trigger source.
func (e *EmergencyStop) LastSource() Source {
	return e.lastSource
}

// ButtonDebounced returns the filtered button value from the last tick.
func (e *EmergencyStop) ButtonDebounced() bool {
	return e.buttonDebounced
}

// StateEntryTime returns the tick at which the current state was entered.
func (e *EmergencyStop) StateEntryTime() hal.Tick {
	return e.stateEntry
}

// Statistics returns a copy of the audit counters.
func (e *EmergencyStop) Statistics() Statistics {
	return Statistics{
		TriggerCount:    e.triggerCount,
		LastTriggerTime: e.lastTriggerTime,
		LastSource:      e.lastSource,
		Overruns:        e.overruns,
		MaxTickGap:      e.maxGap,
	}
}

// ReadStatistics copies the trigger count and last trigger time into the
// given destinations.
func (e *EmergencyStop) ReadStatistics(count *uint32, last *hal.Tick) error {
	if e == nil || count == nil || last == nil {
		return ErrNullPointer
	}
	*count = e.triggerCount
	*last = e.lastTriggerTime
	return nil
}

// SelfTest pulses the LED and both relays through the HAL. It is only
// allowed while Armed and restores the Armed outputs afterwards. Any HAL
// failure stops the sequence and is returned.
func (e *EmergencyStop) SelfTest() error {
	if e == nil {
		return ErrNullPointer
	}
	if !e.initialized {
		return ErrNotInitialized
	}
	if e.state != StateArmed {
		return fmt.Errorf("%w: self-test from %s", ErrInvalidState, e.state)
	}

	delay := e.timing.SelfTestDelay
	if err := e.gpio.Write(e.pins.LED, hal.High); err != nil {
		return hwFault("self-test led on", err)
	}
	e.clock.DelayMS(delay)
	if err := e.gpio.Write(e.pins.LED, hal.Low); err != nil {
		return hwFault("self-test led off", err)
	}
	if err := e.setRelays(RelayEngaged); err != nil {
		return err
	}
	e.clock.DelayMS(delay)
	if err := e.setRelays(RelayReleased); err != nil {
		return err
	}
	if err := e.gpio.Write(e.pins.LED, LEDLevel(e.state, e.clock.TickMS())); err != nil {
		return hwFault("self-test led restore", err)
	}
	return nil
}

// CheckHealth reports a corrupted state, a failed liveness probe, or a
// recovery that has been pending for longer than the stuck timeout.
func (e *EmergencyStop) CheckHealth() error {
	if e == nil {
		return ErrNullPointer
	}
	if !e.initialized {
		return ErrNotInitialized
	}
	if e.state >= StateFault {
		return fmt.Errorf("%w: state %s", ErrSystemFault, e.state)
	}
	if _, err := e.gpio.Read(e.pins.Button); err != nil {
		return fmt.Errorf("%w: button probe: %w", ErrNotInitialized, err)
	}
	if e.state == StateResetPending {
		if d := hal.Elapsed(e.clock.TickMS(), e.stateEntry); d > e.timing.StuckTimeout {
			return fmt.Errorf("%w: reset pending for %dms", ErrTimeout, d)
		}
	}
	return nil
}

// fire applies ev through the transition table. A self-transition keeps the
// entry time and is not reported.
func (e *EmergencyStop) fire(ev event, source Source, now hal.Tick) error {
	next, ok := transitions[e.state][ev]
	if !ok {
		from := e.state
		e.enterFault(now)
		return fmt.Errorf("%w: no transition from %s on event %d", ErrInvalidState, from, ev)
	}
	if next == e.state {
		return nil
	}
	e.setState(next, source, now)
	return nil
}

// enterFault engages the relays on a best-effort basis and records Fault.
func (e *EmergencyStop) enterFault(now hal.Tick) {
	e.setRelays(RelayEngaged)
	e.setState(StateFault, SourceSystemFault, now)
}

func (e *EmergencyStop) setState(next State, source Source, now hal.Tick) {
	from := e.state
	e.state = next
	e.stateEntry = now
	if e.observer != nil {
		e.observer(Transition{From: from, To: next, Source: source, At: now})
	}
}

// setRelays drives both relays. The second relay is written even if the
// first fails.
func (e *EmergencyStop) setRelays(level hal.Level) error {
	var errs []error
	if err := e.gpio.Write(e.pins.Relay1, level); err != nil {
		errs = append(errs, hwFault("write relay 1", err))
	}
	if err := e.gpio.Write(e.pins.Relay2, level); err != nil {
		errs = append(errs, hwFault("write relay 2", err))
	}
	return errors.Join(errs...)
}

func (e *EmergencyStop) trackCadence(now hal.Tick) {
	if e.processed {
		gap := hal.Elapsed(now, e.lastProcess)
		if gap > e.maxGap {
			e.maxGap = gap
		}
		if e.timing.ReactionBudget > 0 && gap > e.timing.ReactionBudget {
			e.overruns++
		}
	}
	e.lastProcess = now
	e.processed = true
}

// pressed reports whether the active-low button is asserted.
func pressed(level hal.Level) bool {
	return level == hal.Low
}
