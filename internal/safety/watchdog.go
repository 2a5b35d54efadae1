package safety

import (
	"fmt"

	"github.com/sweeney/estop-controller/internal/hal"
)

// WatchdogConfig sets the hardware timeout and the earlier threshold at
// which a refresh is considered late, both in milliseconds.
type WatchdogConfig struct {
	TimeoutMS uint32
	LateMS    uint32
}

// WatchdogStatistics are monotonic counters kept by the coordinator.
type WatchdogStatistics struct {
	// RefreshCount counts successful refreshes.
	RefreshCount uint32
	// TimeoutCount counts refresh intervals longer than the hardware timeout.
	TimeoutCount uint32
	// MissedCount counts refresh intervals past the late threshold but
	// within the hardware timeout.
	MissedCount uint32
	// LastRefresh is the tick of the last successful refresh.
	LastRefresh hal.Tick
	// MaxInterval is the longest observed interval between refreshes in ms.
	MaxInterval uint32
}

// WatchdogCoordinator tracks refresh cadence against the hardware timeout so
// lateness is observable before the hardware resets the system. It shares no
// state with EmergencyStop; both are driven by the same periodic caller.
type WatchdogCoordinator struct {
	hw    hal.Watchdog
	clock hal.Clock
	cfg   WatchdogConfig

	initialized bool
	last        hal.Tick
	stats       WatchdogStatistics
}

// NewWatchdogCoordinator creates a coordinator. Call Init before use.
func NewWatchdogCoordinator(hw hal.Watchdog, clock hal.Clock, cfg WatchdogConfig) *WatchdogCoordinator {
	return &WatchdogCoordinator{hw: hw, clock: clock, cfg: cfg}
}

// Init validates the configuration and starts the hardware watchdog.
func (w *WatchdogCoordinator) Init() error {
	if w == nil || w.hw == nil || w.clock == nil {
		return ErrNullPointer
	}
	if w.cfg.TimeoutMS == 0 || w.cfg.LateMS == 0 || w.cfg.LateMS >= w.cfg.TimeoutMS {
		return fmt.Errorf("%w: watchdog late %dms must be below timeout %dms", ErrInvalidParameter, w.cfg.LateMS, w.cfg.TimeoutMS)
	}

	w.initialized = false
	w.stats = WatchdogStatistics{}
	if err := w.hw.Init(w.cfg.TimeoutMS); err != nil {
		return hwFault("watchdog init", err)
	}
	w.last = w.clock.TickMS()
	w.stats.LastRefresh = w.last
	w.initialized = true
	return nil
}

// Refresh pets the hardware watchdog and classifies the interval since the
// previous successful refresh.
func (w *WatchdogCoordinator) Refresh() error {
	if w == nil {
		return ErrNullPointer
	}
	if !w.initialized {
		return ErrNotInitialized
	}

	now := w.clock.TickMS()
	if err := w.hw.Refresh(); err != nil {
		return hwFault("watchdog refresh", err)
	}

	interval := hal.Elapsed(now, w.last)
	switch {
	case interval > w.cfg.TimeoutMS:
		w.stats.TimeoutCount++
	case interval > w.cfg.LateMS:
		w.stats.MissedCount++
	}
	if interval > w.stats.MaxInterval {
		w.stats.MaxInterval = interval
	}
	w.stats.RefreshCount++
	w.stats.LastRefresh = now
	w.last = now
	return nil
}

// RefreshDue reports whether the late threshold has been reached since the
// last refresh. It is true exactly when TimeUntilRefresh is 0.
func (w *WatchdogCoordinator) RefreshDue() bool {
	if !w.initialized {
		return false
	}
	return hal.Elapsed(w.clock.TickMS(), w.last) >= w.cfg.LateMS
}

// TimeUntilRefresh returns the milliseconds left before the refresh becomes
// late, or 0 if it already is.
func (w *WatchdogCoordinator) TimeUntilRefresh() uint32 {
	if !w.initialized {
		return 0
	}
	elapsed := hal.Elapsed(w.clock.TickMS(), w.last)
	if elapsed >= w.cfg.LateMS {
		return 0
	}
	return w.cfg.LateMS - elapsed
}

// CheckHealth fails if the hardware timeout has already elapsed without a
// refresh, or if the hardware reports a shorter timeout than configured.
func (w *WatchdogCoordinator) CheckHealth() error {
	if w == nil {
		return ErrNullPointer
	}
	if !w.initialized {
		return ErrNotInitialized
	}
	if d := hal.Elapsed(w.clock.TickMS(), w.last); d > w.cfg.TimeoutMS {
		return fmt.Errorf("%w: watchdog not refreshed for %dms", ErrTimeout, d)
	}
	return w.verifyTimeout()
}

// SelfTest checks the configuration read-back and performs one refresh.
func (w *WatchdogCoordinator) SelfTest() error {
	if w == nil {
		return ErrNullPointer
	}
	if !w.initialized {
		return ErrNotInitialized
	}
	if err := w.verifyTimeout(); err != nil {
		return err
	}
	before := w.stats.RefreshCount
	if err := w.Refresh(); err != nil {
		return err
	}
	if w.stats.RefreshCount != before+1 {
		return fmt.Errorf("%w: refresh not counted", ErrSystemFault)
	}
	return nil
}

// Statistics returns a copy of the counters.
func (w *WatchdogCoordinator) Statistics() WatchdogStatistics {
	return w.stats
}

func (w *WatchdogCoordinator) verifyTimeout() error {
	got, err := w.hw.TimeoutMS()
	if err != nil {
		return hwFault("watchdog read timeout", err)
	}
	if got < w.cfg.TimeoutMS {
		return fmt.Errorf("%w: watchdog timeout readback %dms, configured %dms", ErrHardwareFault, got, w.cfg.TimeoutMS)
	}
	return nil
}
