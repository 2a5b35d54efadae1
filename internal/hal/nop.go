package hal

// NopWatchdog is a software stand-in used when no watchdog device is
// configured. It remembers the timeout so read-back checks still pass.
type NopWatchdog struct {
	timeout uint32
}

// Init records the timeout.
func (w *NopWatchdog) Init(timeoutMS uint32) error {
	w.timeout = timeoutMS
	return nil
}

// Refresh does nothing.
func (w *NopWatchdog) Refresh() error { return nil }

// TimeoutMS returns the timeout given to Init.
func (w *NopWatchdog) TimeoutMS() (uint32, error) { return w.timeout, nil }
