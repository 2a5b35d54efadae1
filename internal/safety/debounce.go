package safety

import (
	"sync/atomic"

	"github.com/sweeney/estop-controller/internal/hal"
)

// Debouncer filters a noisy active input into a stable signal.
// It is slow to assert and instant to release: the filtered value becomes
// true only after the raw input has been asserted for at least the window,
// and any deasserted sample clears it immediately and restarts the window.
//
// The window reference may be written from an interrupt handler through
// MarkEdge; it is the only field shared across contexts.
type Debouncer struct {
	window uint32
	ref    atomic.Uint32
	stable bool
}

// NewDebouncer creates a filter with the given window in ms, with its
// reference at now.
func NewDebouncer(window uint32, now hal.Tick) *Debouncer {
	d := &Debouncer{window: window}
	d.ref.Store(uint32(now))
	return d
}

// Update feeds one raw sample taken at now and returns the filtered value.
func (d *Debouncer) Update(asserted bool, now hal.Tick) bool {
	if !asserted {
		d.stable = false
		d.ref.Store(uint32(now))
		return false
	}
	if hal.Elapsed(now, hal.Tick(d.ref.Load())) >= d.window {
		d.stable = true
	}
	return d.stable
}

// MarkEdge records the time of an edge toward asserted. Safe to call from
// an interrupt handler concurrently with Update.
func (d *Debouncer) MarkEdge(at hal.Tick) {
	d.ref.Store(uint32(at))
}

// Reset clears the filtered value and restarts the window at now.
func (d *Debouncer) Reset(now hal.Tick) {
	d.stable = false
	d.ref.Store(uint32(now))
}
