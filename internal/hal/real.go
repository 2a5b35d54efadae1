//go:build linux

package hal

import (
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// consumer is the label the kernel shows for lines held by this process.
const consumer = "estopd"

// RealBoard drives GPIO lines through the Linux GPIO character device.
type RealBoard struct {
	mu    sync.Mutex
	chip  *gpiocdev.Chip
	clock Clock
	lines map[Pin]*realLine
}

type realLine struct {
	line *gpiocdev.Line
	mode Mode
	pull Pull
}

// NewRealBoard opens the named GPIO chip. Edge timestamps passed to interrupt
// handlers are taken from clock.
func NewRealBoard(chipName string, clock Clock) (*RealBoard, error) {
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	return &RealBoard{
		chip:  chip,
		clock: clock,
		lines: make(map[Pin]*realLine),
	}, nil
}

func (b *RealBoard) check(pin Pin) error {
	if int(pin) >= b.chip.Lines() {
		return fmt.Errorf("%w: %d (chip has %d lines)", ErrInvalidPin, pin, b.chip.Lines())
	}
	return nil
}

func biasOption(pull Pull) gpiocdev.LineReqOption {
	switch pull {
	case PullUp:
		return gpiocdev.WithPullUp
	case PullDown:
		return gpiocdev.WithPullDown
	default:
		return gpiocdev.WithBiasDisabled
	}
}

// Configure requests the line with the given direction and bias. Outputs
// start LOW. Speed has no equivalent on the character device and is ignored.
func (b *RealBoard) Configure(pin Pin, mode Mode, pull Pull, speed Speed) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.check(pin); err != nil {
		return err
	}
	if old, ok := b.lines[pin]; ok {
		old.line.Close()
		delete(b.lines, pin)
	}

	opts := []gpiocdev.LineReqOption{biasOption(pull)}
	if mode == ModeOutput {
		opts = append(opts, gpiocdev.AsOutput(0))
	} else {
		opts = append(opts, gpiocdev.AsInput)
	}

	line, err := b.chip.RequestLine(int(pin), opts...)
	if err != nil {
		return fmt.Errorf("request pin %d: %w", pin, err)
	}
	b.lines[pin] = &realLine{line: line, mode: mode, pull: pull}
	return nil
}

func (b *RealBoard) get(pin Pin) (*realLine, error) {
	if err := b.check(pin); err != nil {
		return nil, err
	}
	l, ok := b.lines[pin]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotConfigured, pin)
	}
	return l, nil
}

// Write sets an output line.
func (b *RealBoard) Write(pin Pin, level Level) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, err := b.get(pin)
	if err != nil {
		return err
	}
	if err := l.line.SetValue(int(level)); err != nil {
		return fmt.Errorf("write pin %d: %w", pin, err)
	}
	return nil
}

// Read samples a line.
func (b *RealBoard) Read(pin Pin) (Level, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, err := b.get(pin)
	if err != nil {
		return Low, err
	}
	v, err := l.line.Value()
	if err != nil {
		return Low, fmt.Errorf("read pin %d: %w", pin, err)
	}
	if v != 0 {
		return High, nil
	}
	return Low, nil
}

// EnableInterrupt re-requests an input line with edge detection. The handler
// runs on the gpiocdev event goroutine. Priority is accepted for interface
// compatibility; the kernel delivers events in order on a single watcher.
func (b *RealBoard) EnableInterrupt(pin Pin, trigger Trigger, priority uint8, handler InterruptHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, err := b.get(pin)
	if err != nil {
		return err
	}
	if l.mode != ModeInput {
		return fmt.Errorf("%w: pin %d is not an input", ErrInvalidPin, pin)
	}

	var edge gpiocdev.LineReqOption
	switch trigger {
	case TriggerRising:
		edge = gpiocdev.WithRisingEdge
	case TriggerFalling:
		edge = gpiocdev.WithFallingEdge
	default:
		edge = gpiocdev.WithBothEdges
	}

	clock := b.clock
	eh := func(evt gpiocdev.LineEvent) {
		handler(Pin(evt.Offset), clock.TickMS())
	}

	l.line.Close()
	line, err := b.chip.RequestLine(int(pin), gpiocdev.AsInput, biasOption(l.pull), edge, gpiocdev.WithEventHandler(eh))
	if err != nil {
		delete(b.lines, pin)
		return fmt.Errorf("request pin %d with edge detection: %w", pin, err)
	}
	l.line = line
	return nil
}

// Close releases every held line and the chip. Inputs are returned to plain
// inputs; outputs are released without being reconfigured so the relays keep
// their last driven level.
func (b *RealBoard) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for pin, l := range b.lines {
		if l.mode == ModeInput {
			if err := l.line.Reconfigure(gpiocdev.AsInput); err != nil {
				errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", pin, err))
			}
		}
		if err := l.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
	}
	b.lines = make(map[Pin]*realLine)
	if err := b.chip.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close chip: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
