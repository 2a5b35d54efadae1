package safety

import (
	"testing"

	"github.com/sweeney/estop-controller/internal/hal"
)

func TestDebouncerAssertsAtThreshold(t *testing.T) {
	d := NewDebouncer(50, 100)

	if d.Update(true, 100) {
		t.Error("should not assert on first sample")
	}
	if d.Update(true, 149) {
		t.Error("should not assert at 49ms")
	}
	if !d.Update(true, 150) {
		t.Error("should assert at exactly 50ms")
	}
	if !d.Update(true, 400) {
		t.Error("should stay asserted while held")
	}
}

func TestDebouncerReleasesInstantly(t *testing.T) {
	d := NewDebouncer(50, 0)
	d.Update(true, 60)

	if d.Update(false, 61) {
		t.Error("release must clear immediately")
	}
	if d.Update(true, 62) {
		t.Error("window must restart after release")
	}
	if d.Update(true, 110) {
		t.Error("should not assert 49ms after restart")
	}
	if !d.Update(true, 111) {
		t.Error("should assert 50ms after restart")
	}
}

func TestDebouncerFlickerCancelsPending(t *testing.T) {
	d := NewDebouncer(50, 0)

	for now := hal.Tick(1); now < 200; now++ {
		// Released every 10th sample.
		asserted := now%10 != 0
		if d.Update(asserted, now) {
			t.Fatalf("asserted at %d despite flicker", now)
		}
	}
}

func TestDebouncerMarkEdge(t *testing.T) {
	d := NewDebouncer(50, 0)
	d.Update(true, 30)
	d.MarkEdge(40)

	if d.Update(true, 60) {
		t.Error("edge at 40 should push assertion to 90")
	}
	if !d.Update(true, 90) {
		t.Error("should assert 50ms after the edge")
	}
}

func TestDebouncerAcrossWrap(t *testing.T) {
	start := hal.Tick(^uint32(0) - 10)
	d := NewDebouncer(50, start)

	if d.Update(true, start+49) {
		t.Error("should not assert at 49ms")
	}
	if !d.Update(true, start+50) {
		t.Error("should assert at 50ms across the wrap")
	}
}

func TestDebouncerReset(t *testing.T) {
	d := NewDebouncer(50, 0)
	d.Update(true, 100)
	d.Reset(100)

	if d.Update(true, 120) {
		t.Error("Reset should clear the filtered value and restart the window")
	}
	if !d.Update(true, 150) {
		t.Error("should assert 50ms after reset")
	}
}
