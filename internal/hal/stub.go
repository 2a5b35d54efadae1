//go:build !linux

package hal

import "errors"

var errUnsupported = errors.New("hal: not supported on this platform (requires Linux)")

// RealBoard is not available on non-Linux platforms.
type RealBoard struct{}

// NewRealBoard returns an error on non-Linux platforms.
func NewRealBoard(chipName string, clock Clock) (*RealBoard, error) {
	return nil, errUnsupported
}

func (b *RealBoard) Configure(pin Pin, mode Mode, pull Pull, speed Speed) error {
	return errUnsupported
}

func (b *RealBoard) Write(pin Pin, level Level) error { return errUnsupported }

func (b *RealBoard) Read(pin Pin) (Level, error) { return Low, errUnsupported }

func (b *RealBoard) EnableInterrupt(pin Pin, trigger Trigger, priority uint8, handler InterruptHandler) error {
	return errUnsupported
}

// Close is a no-op on non-Linux platforms.
func (b *RealBoard) Close() error { return nil }

// DevWatchdog is not available on non-Linux platforms.
type DevWatchdog struct{}

// OpenDevWatchdog returns an error on non-Linux platforms.
func OpenDevWatchdog(path string) (*DevWatchdog, error) {
	return nil, errUnsupported
}

func (w *DevWatchdog) Init(timeoutMS uint32) error { return errUnsupported }

func (w *DevWatchdog) Refresh() error { return errUnsupported }

func (w *DevWatchdog) TimeoutMS() (uint32, error) { return 0, errUnsupported }

// Close is a no-op on non-Linux platforms.
func (w *DevWatchdog) Close() error { return nil }
