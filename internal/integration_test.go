package internal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sweeney/estop-controller/internal/hal"
	"github.com/sweeney/estop-controller/internal/mqtt"
	"github.com/sweeney/estop-controller/internal/safety"
	"github.com/sweeney/estop-controller/internal/status"
)

// TestIntegrationFullFlow drives a press, a held reset, a clean reset and
// recovery from the board through the safety core to MQTT and the status
// JSON, using fakes.
func TestIntegrationFullFlow(t *testing.T) {
	pins := safety.Pins{Button: 4, LED: 5, Relay1: 6, Relay2: 7}
	board := hal.NewFakeBoard(8, 0)
	publisher := mqtt.NewFakePublisher()
	startTime := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tracker := status.NewTracker(startTime, status.Config{TickMs: 1, DebounceMs: 50})

	stop := safety.NewEmergencyStop(board, board, pins, safety.DefaultTiming())
	wall := func() time.Time { return startTime.Add(time.Duration(board.TickMS()) * time.Millisecond) }
	stop.SetObserver(func(tr safety.Transition) {
		tracker.SetTransition(wall())
		if err := publisher.Publish(mqtt.NewTransitionEvent(tr, wall(), stop.Statistics().TriggerCount)); err != nil {
			t.Errorf("publish: %v", err)
		}
	})
	if err := stop.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	run := func(ms int) {
		for i := 0; i < ms; i++ {
			board.Advance(1)
			if err := stop.Process(); err != nil {
				t.Fatalf("Process at %d: %v", board.TickMS(), err)
			}
		}
		tracker.Update(stop.State(), stop.ButtonDebounced(), stop.Statistics(), safety.WatchdogStatistics{})
	}

	run(100)
	board.SetInput(pins.Button, hal.Low)
	run(100)

	if got := board.Level(pins.LED); got != hal.High {
		t.Errorf("LED while triggered: got %v, want HIGH", got)
	}
	if err := stop.Reset(); safety.CodeOf(err) != safety.CodeHardwareFault {
		t.Errorf("Reset while held: got %v, want HARDWARE_FAULT", err)
	}

	board.SetInput(pins.Button, hal.High)
	run(10)
	if err := stop.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	run(1001)

	want := []struct {
		from, to safety.State
		tick     hal.Tick
	}{
		{safety.StateUninitialized, safety.StateArmed, 0},
		{safety.StateArmed, safety.StateTriggered, 150},
		{safety.StateTriggered, safety.StateResetPending, 210},
		{safety.StateResetPending, safety.StateArmed, 1211},
	}
	if len(publisher.Events) != len(want) {
		t.Fatalf("expected %d transitions, got %d", len(want), len(publisher.Events))
	}
	for i, w := range want {
		ev := publisher.Events[i]
		if ev.From != w.from || ev.To != w.to || ev.Tick != w.tick {
			t.Errorf("transition %d: got %s->%s at %d, want %s->%s at %d",
				i, ev.From, ev.To, ev.Tick, w.from, w.to, w.tick)
		}
	}

	var trig mqtt.Payload
	if err := json.Unmarshal(publisher.Payloads[1], &trig); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if !trig.EStop.Active || trig.EStop.Source != "BUTTON" || trig.EStop.Timestamp != "2026-01-01T12:00:00Z" {
		t.Errorf("trigger payload: %+v", trig.EStop)
	}

	var sj status.StatusJSON
	if err := json.Unmarshal(status.FormatJSON(tracker.Snapshot()), &sj); err != nil {
		t.Fatalf("invalid status JSON: %v", err)
	}
	if sj.Status.State != "ARMED" || sj.Status.Active {
		t.Errorf("status: state %s active %v, want ARMED inactive", sj.Status.State, sj.Status.Active)
	}
	if sj.Status.Triggers.Count != 1 || sj.Status.Triggers.LastTriggerMs != 150 || sj.Status.LastSource != "BUTTON" {
		t.Errorf("triggers: %+v source %s", sj.Status.Triggers, sj.Status.LastSource)
	}
	if sj.Status.LastTransition != "2026-01-01T12:00:01Z" {
		t.Errorf("last_transition: got %q", sj.Status.LastTransition)
	}
	if board.Level(pins.Relay1) != safety.RelayReleased || board.Level(pins.Relay2) != safety.RelayReleased {
		t.Error("relays should be released after recovery")
	}
}
