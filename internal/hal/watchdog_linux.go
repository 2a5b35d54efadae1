//go:build linux

package hal

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// magicClose disarms the kernel watchdog on close when the driver supports it.
const magicClose = "V"

// DevWatchdog drives a Linux watchdog device such as /dev/watchdog.
// The kernel interface has one-second resolution; timeouts are rounded up.
type DevWatchdog struct {
	f *os.File
}

// OpenDevWatchdog opens the watchdog device. Opening arms the watchdog on
// most drivers, so Init and the refresh cadence must follow promptly.
func OpenDevWatchdog(path string) (*DevWatchdog, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open watchdog %s: %w", path, err)
	}
	return &DevWatchdog{f: f}, nil
}

// Init sets the hardware timeout.
func (w *DevWatchdog) Init(timeoutMS uint32) error {
	secs := int((timeoutMS + 999) / 1000)
	if secs == 0 {
		secs = 1
	}
	if err := unix.IoctlSetPointerInt(int(w.f.Fd()), unix.WDIOC_SETTIMEOUT, secs); err != nil {
		return fmt.Errorf("set watchdog timeout %ds: %w", secs, err)
	}
	return nil
}

// Refresh pets the watchdog.
func (w *DevWatchdog) Refresh() error {
	if _, err := unix.IoctlGetInt(int(w.f.Fd()), unix.WDIOC_KEEPALIVE); err != nil {
		return fmt.Errorf("watchdog keepalive: %w", err)
	}
	return nil
}

// TimeoutMS reads back the timeout the driver accepted.
func (w *DevWatchdog) TimeoutMS() (uint32, error) {
	secs, err := unix.IoctlGetInt(int(w.f.Fd()), unix.WDIOC_GETTIMEOUT)
	if err != nil {
		return 0, fmt.Errorf("get watchdog timeout: %w", err)
	}
	return uint32(secs) * 1000, nil
}

// Close writes the magic-close character and releases the device.
func (w *DevWatchdog) Close() error {
	if _, err := w.f.WriteString(magicClose); err != nil {
		w.f.Close()
		return fmt.Errorf("watchdog magic close: %w", err)
	}
	return w.f.Close()
}
