package hal

import "time"

// Tick is a millisecond timestamp from Clock.TickMS. It wraps at 2^32
// (about 49.7 days); use Elapsed for all duration arithmetic.
type Tick uint32

// Elapsed returns the milliseconds from then to now. Unsigned subtraction
// keeps the result correct across a single wrap of the counter.
func Elapsed(now, then Tick) uint32 {
	return uint32(now - then)
}

// SystemClock is a Clock backed by the Go runtime monotonic clock.
type SystemClock struct {
	start time.Time
}

// NewSystemClock creates a clock whose tick 0 is the moment of the call.
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

// TickMS returns milliseconds since the clock was created, truncated to 32 bits.
func (c *SystemClock) TickMS() Tick {
	return Tick(uint32(time.Since(c.start).Milliseconds()))
}

// DelayMS sleeps for ms milliseconds.
func (c *SystemClock) DelayMS(ms uint32) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}
