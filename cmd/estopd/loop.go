package main

import (
	"errors"
	"log"
	"os"
	"syscall"
	"time"

	"github.com/sweeney/estop-controller/internal/hal"
	"github.com/sweeney/estop-controller/internal/monitor"
	"github.com/sweeney/estop-controller/internal/mqtt"
	"github.com/sweeney/estop-controller/internal/safety"
	"github.com/sweeney/estop-controller/internal/status"
)

// loopConfig holds the cadences runLoop works to.
type loopConfig struct {
	RefreshMS           uint32
	HealthIntervalMS    uint32
	Heartbeat           time.Duration
	TriggerOnDisconnect bool
}

// daemon ties the safety core to its observers. All fields are owned by the
// runLoop goroutine.
type daemon struct {
	stop       *safety.EmergencyStop
	watchdog   *safety.WatchdogCoordinator
	clock      hal.Clock
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	metrics    *monitor.Metrics
	cfg        loopConfig
	now        func() time.Time

	lastRefresh   hal.Tick
	lastHealth    hal.Tick
	lastHeartbeat time.Time

	// last logged codes, so a persistent fault is logged once
	processCode safety.Code
	refreshCode safety.Code
	coreHealth  safety.Code
	wdHealth    safety.Code
}

func newDaemon(stop *safety.EmergencyStop, wd *safety.WatchdogCoordinator, clock hal.Clock, pub mqtt.Publisher, conn mqtt.ConnectionStatus, tracker *status.Tracker, metrics *monitor.Metrics, cfg loopConfig, now func() time.Time) *daemon {
	d := &daemon{
		stop:       stop,
		watchdog:   wd,
		clock:      clock,
		publisher:  pub,
		mqttStatus: conn,
		tracker:    tracker,
		metrics:    metrics,
		cfg:        cfg,
		now:        now,
	}
	stop.SetObserver(d.onTransition)
	return d
}

// onTransition runs synchronously inside the safety core.
func (d *daemon) onTransition(tr safety.Transition) {
	at := d.now()
	stats := d.stop.Statistics()
	log.Printf("state: %s -> %s (source=%s tick=%d triggers=%d)", tr.From, tr.To, tr.Source, tr.At, stats.TriggerCount)

	d.metrics.ObserveTransition(tr)
	d.tracker.SetTransition(at)
	if err := d.publisher.Publish(mqtt.NewTransitionEvent(tr, at, stats.TriggerCount)); err != nil {
		log.Printf("publish transition: %v", err)
	}
}

func runLoop(d *daemon, tick <-chan time.Time, sig <-chan os.Signal, cmds <-chan command, link <-chan bool) error {
	d.lastRefresh = d.clock.TickMS()
	d.lastHealth = d.lastRefresh
	d.lastHeartbeat = d.now()
	d.syncStatus()
	d.publishSystem("STARTUP", "", true)

	for {
		select {
		case s := <-sig:
			d.shutdown(s)
			return nil

		case <-tick:
			d.onTick()

		case c := <-cmds:
			d.onCommand(c)

		case up := <-link:
			d.onLink(up)
		}
	}
}

// onTick runs one control period. Process comes first so the reaction to
// the button is never delayed by housekeeping.
func (d *daemon) onTick() {
	err := d.stop.Process()
	d.metrics.ObserveError("process", err)
	d.logChange("process", &d.processCode, err)

	now := d.clock.TickMS()
	if hal.Elapsed(now, d.lastRefresh) >= d.cfg.RefreshMS {
		err := d.watchdog.Refresh()
		d.metrics.ObserveError("watchdog_refresh", err)
		d.logChange("watchdog refresh", &d.refreshCode, err)
		d.lastRefresh = now
	}

	if hal.Elapsed(now, d.lastHealth) >= d.cfg.HealthIntervalMS {
		d.checkHealth()
		d.lastHealth = now
	}

	if d.cfg.Heartbeat > 0 {
		if t := d.now(); t.Sub(d.lastHeartbeat) >= d.cfg.Heartbeat {
			d.lastHeartbeat = t
			d.syncStatus()
			stats := d.stop.Statistics()
			log.Printf("heartbeat: state=%s triggers=%d overruns=%d watchdog_refreshes=%d",
				d.stop.State(), stats.TriggerCount, stats.Overruns, d.watchdog.Statistics().RefreshCount)
			d.publishSystem("HEARTBEAT", "", false)
		}
	}

	d.tracker.Update(d.stop.State(), d.stop.ButtonDebounced(), d.stop.Statistics(), d.watchdog.Statistics())
}

// checkHealth runs both health checks and escalates failures to a stop.
func (d *daemon) checkHealth() {
	coreErr := d.stop.CheckHealth()
	wdErr := d.watchdog.CheckHealth()
	d.tracker.SetHealth(safety.CodeOf(coreErr), safety.CodeOf(wdErr))
	d.metrics.ObserveError("health", coreErr)
	d.metrics.ObserveError("watchdog_health", wdErr)
	if errors.Is(coreErr, safety.ErrTimeout) && d.coreHealth != safety.CodeTimeout {
		ws := d.watchdog.Statistics()
		log.Printf("reset pending too long: watchdog refreshes=%d missed=%d timeouts=%d", ws.RefreshCount, ws.MissedCount, ws.TimeoutCount)
	}
	d.logChange("health", &d.coreHealth, coreErr)
	d.logChange("watchdog health", &d.wdHealth, wdErr)

	if d.stop.State() != safety.StateTriggered {
		switch {
		case errors.Is(wdErr, safety.ErrTimeout):
			d.escalate(safety.SourceWatchdog, wdErr)
		case errors.Is(coreErr, safety.ErrSystemFault):
			d.escalate(safety.SourceSystemFault, coreErr)
		case errors.Is(coreErr, safety.ErrNotInitialized):
			// button probe failed; the stop can no longer see the operator
			d.escalate(safety.SourceSafetyMonitor, coreErr)
		}
	}

	d.metrics.ObserveStatistics(d.stop.State(), d.stop.Statistics())
	d.metrics.ObserveWatchdog(d.watchdog.Statistics())
}

func (d *daemon) escalate(source safety.Source, cause error) {
	log.Printf("escalating to emergency stop (%s): %v", source, cause)
	if err := d.stop.Execute(source); err != nil {
		log.Printf("emergency stop (%s) failed: %v", source, err)
		d.metrics.ObserveError("execute", err)
	}
}

func (d *daemon) onCommand(c command) {
	var err error
	switch c.kind {
	case mqtt.CommandTrigger:
		err = d.stop.Execute(safety.SourceSoftware)
	case mqtt.CommandReset:
		err = d.stop.Reset()
	default:
		log.Printf("unknown command %q from %s", c.kind, c.origin)
		return
	}
	if err != nil {
		log.Printf("command %s from %s: %v", c.kind, c.origin, err)
		d.metrics.ObserveError(string(c.kind), err)
		return
	}
	log.Printf("command %s from %s accepted", c.kind, c.origin)
}

func (d *daemon) onLink(up bool) {
	d.tracker.SetMQTTConnected(up)
	if up {
		d.syncStatus()
		d.publishSystem("RECONNECTED", "", false)
		return
	}
	if d.cfg.TriggerOnDisconnect && d.stop.State() != safety.StateTriggered {
		d.escalate(safety.SourceCommunication, errors.New("mqtt connection lost"))
	}
}

// shutdown leaves the machine stopped and reports why.
func (d *daemon) shutdown(s os.Signal) {
	name := signalName(s)
	log.Printf("received %v, shutting down", s)
	if d.stop.State() != safety.StateTriggered {
		d.escalate(safety.SourceSystemFault, errors.New("shutdown"))
	}
	d.syncStatus()
	d.publishSystem("SHUTDOWN", name, true)
}

func (d *daemon) syncStatus() {
	d.tracker.Update(d.stop.State(), d.stop.ButtonDebounced(), d.stop.Statistics(), d.watchdog.Statistics())
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
}

func (d *daemon) publishSystem(event, reason string, retained bool) {
	snap := d.tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  d.now(),
		Event:      event,
		Reason:     reason,
		Retained:   retained,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	if err := d.publisher.PublishSystem(ev); err != nil {
		log.Printf("publish %s event: %v", event, err)
	}
}

// logChange logs err only when its code differs from the last one seen.
func (d *daemon) logChange(what string, last *safety.Code, err error) {
	code := safety.CodeOf(err)
	if code == *last {
		return
	}
	if err == nil {
		log.Printf("%s: recovered", what)
	} else {
		log.Printf("%s: %v", what, err)
	}
	*last = code
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}
