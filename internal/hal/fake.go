package hal

import (
	"fmt"
	"sync"
)

// FakeBoard is a test double implementing GPIO, Clock and Watchdog.
// Input levels are scripted with SetInput; outputs and watchdog activity are
// recorded for assertions. Time only advances through Advance or DelayMS.
type FakeBoard struct {
	mu sync.Mutex

	// Pins is the number of valid pin identifiers (0..Pins-1).
	Pins int

	// Now is the current tick returned by TickMS.
	Now Tick

	// ConfigureError, if set for a pin, is returned by Configure.
	ConfigureError map[Pin]error
	// WriteError, if set for a pin, is returned by Write.
	WriteError map[Pin]error
	// ReadError, if set for a pin, is returned by Read.
	ReadError map[Pin]error
	// InterruptError, if set, is returned by EnableInterrupt.
	InterruptError error

	// Writes records every successful Write in order.
	Writes []PinWrite
	// Delays records every DelayMS call.
	Delays []uint32

	// WatchdogInitError, if set, is returned by Watchdog Init.
	WatchdogInitError error
	// WatchdogRefreshError, if set, is returned by Watchdog Refresh.
	WatchdogRefreshError error
	// WatchdogTimeout is the timeout passed to Init.
	WatchdogTimeout uint32
	// WatchdogReadback, if nonzero, overrides the value TimeoutMS reports.
	WatchdogReadback uint32
	// WatchdogRefreshes counts successful refreshes.
	WatchdogRefreshes int

	pins map[Pin]*fakePin
}

// PinWrite is a single recorded output write.
type PinWrite struct {
	Pin   Pin
	Level Level
	At    Tick
}

type fakePin struct {
	mode    Mode
	pull    Pull
	level   Level
	trigger Trigger
	handler InterruptHandler
}

// NewFakeBoard creates a FakeBoard exposing the given number of pins,
// starting at tick start.
func NewFakeBoard(pins int, start Tick) *FakeBoard {
	return &FakeBoard{
		Pins:           pins,
		Now:            start,
		ConfigureError: make(map[Pin]error),
		WriteError:     make(map[Pin]error),
		ReadError:      make(map[Pin]error),
		pins:           make(map[Pin]*fakePin),
	}
}

func (f *FakeBoard) check(pin Pin) error {
	if int(pin) >= f.Pins {
		return fmt.Errorf("%w: %d", ErrInvalidPin, pin)
	}
	return nil
}

// Configure records the pin configuration. Inputs with a pull-up idle HIGH.
func (f *FakeBoard) Configure(pin Pin, mode Mode, pull Pull, speed Speed) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check(pin); err != nil {
		return err
	}
	if err := f.ConfigureError[pin]; err != nil {
		return err
	}

	p := &fakePin{mode: mode, pull: pull}
	if mode == ModeInput && pull == PullUp {
		p.level = High
	}
	if old, ok := f.pins[pin]; ok && mode == ModeInput {
		p.level = old.level
	}
	f.pins[pin] = p
	return nil
}

// Write drives an output pin.
func (f *FakeBoard) Write(pin Pin, level Level) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check(pin); err != nil {
		return err
	}
	if err := f.WriteError[pin]; err != nil {
		return err
	}
	p, ok := f.pins[pin]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotConfigured, pin)
	}
	p.level = level
	f.Writes = append(f.Writes, PinWrite{Pin: pin, Level: level, At: f.Now})
	return nil
}

// Read returns the current pin level.
func (f *FakeBoard) Read(pin Pin) (Level, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check(pin); err != nil {
		return Low, err
	}
	if err := f.ReadError[pin]; err != nil {
		return Low, err
	}
	p, ok := f.pins[pin]
	if !ok {
		return Low, fmt.Errorf("%w: %d", ErrNotConfigured, pin)
	}
	return p.level, nil
}

// EnableInterrupt registers handler for edges on pin.
func (f *FakeBoard) EnableInterrupt(pin Pin, trigger Trigger, priority uint8, handler InterruptHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check(pin); err != nil {
		return err
	}
	if f.InterruptError != nil {
		return f.InterruptError
	}
	p, ok := f.pins[pin]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotConfigured, pin)
	}
	p.trigger = trigger
	p.handler = handler
	return nil
}

// SetInput sets the externally driven level of a pin and fires the
// registered interrupt handler if the change matches its trigger.
func (f *FakeBoard) SetInput(pin Pin, level Level) {
	f.mu.Lock()
	p, ok := f.pins[pin]
	if !ok {
		p = &fakePin{mode: ModeInput}
		f.pins[pin] = p
	}
	old := p.level
	p.level = level
	handler := p.handler
	fire := old != level && matches(p.trigger, level)
	now := f.Now
	f.mu.Unlock()

	if handler != nil && fire {
		handler(pin, now)
	}
}

func matches(trigger Trigger, level Level) bool {
	switch trigger {
	case TriggerRising:
		return level == High
	case TriggerFalling:
		return level == Low
	default:
		return true
	}
}

// Level returns the current level of a pin without error injection.
func (f *FakeBoard) Level(pin Pin) Level {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.pins[pin]; ok {
		return p.level
	}
	return Low
}

// Configured reports the mode and pull of a pin, and whether it was configured.
func (f *FakeBoard) Configured(pin Pin) (Mode, Pull, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pins[pin]
	if !ok {
		return 0, 0, false
	}
	return p.mode, p.pull, true
}

// TickMS returns the fake current tick.
func (f *FakeBoard) TickMS() Tick {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Now
}

// DelayMS advances the fake clock instead of blocking.
func (f *FakeBoard) DelayMS(ms uint32) {
	f.mu.Lock()
	f.Delays = append(f.Delays, ms)
	f.Now += Tick(ms)
	f.mu.Unlock()
}

// Advance moves the fake clock forward by ms milliseconds.
func (f *FakeBoard) Advance(ms uint32) {
	f.mu.Lock()
	f.Now += Tick(ms)
	f.mu.Unlock()
}

// Watchdog returns a Watchdog view over the board's fake watchdog.
// It is a separate value because Init and Refresh would otherwise be
// ambiguous on FakeBoard.
func (f *FakeBoard) Watchdog() Watchdog {
	return fakeWatchdog{f}
}

type fakeWatchdog struct{ f *FakeBoard }

func (w fakeWatchdog) Init(timeoutMS uint32) error {
	w.f.mu.Lock()
	defer w.f.mu.Unlock()
	if w.f.WatchdogInitError != nil {
		return w.f.WatchdogInitError
	}
	w.f.WatchdogTimeout = timeoutMS
	return nil
}

func (w fakeWatchdog) Refresh() error {
	w.f.mu.Lock()
	defer w.f.mu.Unlock()
	if w.f.WatchdogRefreshError != nil {
		return w.f.WatchdogRefreshError
	}
	w.f.WatchdogRefreshes++
	return nil
}

func (w fakeWatchdog) TimeoutMS() (uint32, error) {
	w.f.mu.Lock()
	defer w.f.mu.Unlock()
	if w.f.WatchdogReadback != 0 {
		return w.f.WatchdogReadback, nil
	}
	return w.f.WatchdogTimeout, nil
}
