package mqtt

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/estop-controller/internal/safety"
)

func TestNewTopics(t *testing.T) {
	tests := []struct {
		prefix, events, system, command string
	}{
		{"", "estop/events", "estop/system", "estop/command"},
		{"plant/line1/estop", "plant/line1/estop/events", "plant/line1/estop/system", "plant/line1/estop/command"},
		{"cell/", "cell/events", "cell/system", "cell/command"},
	}
	for _, tt := range tests {
		got := NewTopics(tt.prefix)
		if got.Events != tt.events || got.System != tt.system || got.Command != tt.command {
			t.Errorf("NewTopics(%q): got %+v", tt.prefix, got)
		}
	}
}

func TestFormatPayload(t *testing.T) {
	event := TransitionEvent{
		Timestamp:    time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC),
		From:         safety.StateArmed,
		To:           safety.StateTriggered,
		Source:       safety.SourceButton,
		Tick:         1050,
		TriggerCount: 1,
	}

	payload, err := FormatPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := `{"estop":{"timestamp":"2026-02-02T22:18:12Z","event":"TRIGGERED","from":"ARMED","source":"BUTTON","active":true,"tick_ms":1050,"trigger_count":1}}`
	if string(payload) != want {
		t.Errorf("payload:\n got %s\nwant %s", payload, want)
	}
}

func TestFormatPayloadInactiveStates(t *testing.T) {
	for _, to := range []safety.State{safety.StateArmed, safety.StateResetPending, safety.StateFault} {
		t.Run(to.String(), func(t *testing.T) {
			payload, err := FormatPayload(TransitionEvent{Timestamp: time.Now(), To: to})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var parsed Payload
			if err := json.Unmarshal(payload, &parsed); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if parsed.EStop.Active {
				t.Errorf("%s: active should be false", to)
			}
			if parsed.EStop.Event != to.String() {
				t.Errorf("event: got %s, want %s", parsed.EStop.Event, to)
			}
		})
	}
}

func TestNewTransitionEvent(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ev := NewTransitionEvent(safety.Transition{
		From: safety.StateTriggered, To: safety.StateResetPending, Source: safety.SourceMotorFault, At: 77,
	}, at, 3)
	if ev.From != safety.StateTriggered || ev.To != safety.StateResetPending {
		t.Errorf("states: got %s -> %s", ev.From, ev.To)
	}
	if ev.Source != safety.SourceMotorFault || ev.Tick != 77 || ev.TriggerCount != 3 || !ev.Timestamp.Equal(at) {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in      string
		want    Command
		wantErr bool
	}{
		{`{"command":"trigger"}`, CommandTrigger, false},
		{`{"command":"reset"}`, CommandReset, false},
		{`{"command":" TRIGGER "}`, CommandTrigger, false},
		{`{"command":"arm"}`, "", true},
		{`{}`, "", true},
		{`trigger`, "", true},
	}
	for _, tt := range tests {
		got, err := ParseCommand([]byte(tt.in))
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCommand(%s): err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseCommand(%s): got %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatSystemPayloadExactJSON(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 3, 14, 30, 0, 0, time.UTC),
		Event:     "SHUTDOWN",
		Reason:    "SIGTERM",
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"system":{"timestamp":"2026-02-03T14:30:00Z","event":"SHUTDOWN","reason":"SIGTERM"}}`
	if string(payload) != want {
		t.Errorf("payload:\n got %s\nwant %s", payload, want)
	}
}

func TestFormatSystemPayloadOmitsEmptyReason(t *testing.T) {
	payload, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
	var raw map[string]map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := raw["system"]["reason"]; ok {
		t.Error("reason should be omitted when empty")
	}
}

func TestFormatSystemPayloadRaw(t *testing.T) {
	raw := []byte(`{"status":{"event":"HEARTBEAT"}}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: "HEARTBEAT", RawPayload: raw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != string(raw) {
		t.Errorf("got %s, want raw payload", payload)
	}
}

func TestFakePublisher(t *testing.T) {
	pub := NewFakePublisher()
	ev := TransitionEvent{Timestamp: time.Now(), From: safety.StateArmed, To: safety.StateTriggered}

	if err := pub.Publish(ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := pub.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "STARTUP"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(pub.Events) != 1 || len(pub.Payloads) != 1 {
		t.Errorf("expected 1 event and payload, got %d/%d", len(pub.Events), len(pub.Payloads))
	}
	if names := pub.SystemEventNames(); len(names) != 1 || names[0] != "STARTUP" {
		t.Errorf("system events: got %v", names)
	}
	if !pub.IsConnected() {
		t.Error("new fake should report connected")
	}
}

func TestFakePublisherError(t *testing.T) {
	pub := NewFakePublisher()
	pub.PublishError = errors.New("broker down")

	if err := pub.Publish(TransitionEvent{}); err == nil {
		t.Error("expected error")
	}
	if len(pub.Events) != 0 {
		t.Error("failed publish should not be recorded")
	}
}

func TestFakePublisherReset(t *testing.T) {
	pub := NewFakePublisher()
	pub.Publish(TransitionEvent{})
	pub.PublishSystem(SystemEvent{Event: "HEARTBEAT"})
	pub.Close()
	pub.Reset()

	if len(pub.Events) != 0 || len(pub.SystemEvents) != 0 || pub.Closed {
		t.Error("Reset should clear recorded state")
	}
}

// fakeToken completes immediately.
type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient implements the parts of paho.Client the publisher uses.
type fakeClient struct {
	paho.Client

	mu         sync.Mutex
	open       bool
	published  []published
	subscribed []string
	handler    paho.MessageHandler
}

func (c *fakeClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{topic, qos, retained, payload.([]byte)})
	return &fakeToken{}
}

func (c *fakeClient) Subscribe(topic string, qos byte, cb paho.MessageHandler) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = append(c.subscribed, topic)
	c.handler = cb
	return &fakeToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()
}

func (c *fakeClient) topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, p := range c.published {
		out = append(out, p.topic)
	}
	return out
}

type fakeMessage struct {
	paho.Message
	topic   string
	payload []byte
}

func (m *fakeMessage) Topic() string   { return m.topic }
func (m *fakeMessage) Payload() []byte { return m.payload }

func newTestRealPublisher(client *fakeClient, opts Options) *RealPublisher {
	return &RealPublisher{
		client: client,
		topics: NewTopics(opts.TopicPrefix),
		opts:   opts,
		buffer: newRingBuffer(4),
	}
}

func TestRealPublisherBuffersWhileOffline(t *testing.T) {
	client := &fakeClient{}
	var states []bool
	p := newTestRealPublisher(client, Options{
		Broker:             "tcp://broker:1883",
		OnConnectionChange: func(up bool) { states = append(states, up) },
	})

	p.Publish(TransitionEvent{To: safety.StateTriggered})
	p.PublishSystem(SystemEvent{Event: "STARTUP"})
	if p.Buffered() != 2 {
		t.Fatalf("Buffered: got %d, want 2", p.Buffered())
	}
	if len(client.topics()) != 0 {
		t.Fatal("nothing should reach the client while offline")
	}

	client.open = true
	p.onConnect(client)

	got := client.topics()
	if len(got) != 2 || got[0] != "estop/events" || got[1] != "estop/system" {
		t.Errorf("replayed topics: got %v", got)
	}
	if p.Buffered() != 0 {
		t.Errorf("Buffered after replay: got %d, want 0", p.Buffered())
	}
	if len(client.subscribed) != 1 || client.subscribed[0] != "estop/command" {
		t.Errorf("subscriptions: got %v", client.subscribed)
	}
	if len(states) != 1 || !states[0] {
		t.Errorf("connection callbacks: got %v", states)
	}
}

func TestRealPublisherPublishesWhenOnline(t *testing.T) {
	client := &fakeClient{open: true}
	p := newTestRealPublisher(client, Options{TopicPrefix: "cell7"})

	p.PublishSystem(SystemEvent{Event: "HEARTBEAT", Retained: true})
	if len(client.published) != 1 {
		t.Fatalf("published: got %d, want 1", len(client.published))
	}
	m := client.published[0]
	if m.topic != "cell7/system" || m.qos != 1 || !m.retained {
		t.Errorf("unexpected publish: %+v", m)
	}
}

func TestRealPublisherConnectionLost(t *testing.T) {
	client := &fakeClient{open: true}
	var states []bool
	p := newTestRealPublisher(client, Options{OnConnectionChange: func(up bool) { states = append(states, up) }})

	p.onConnectionLost(client, errors.New("EOF"))
	if len(states) != 1 || states[0] {
		t.Errorf("connection callbacks: got %v", states)
	}
}

func TestRealPublisherCommands(t *testing.T) {
	client := &fakeClient{open: true}
	var cmds []Command
	p := newTestRealPublisher(client, Options{OnCommand: func(c Command) { cmds = append(cmds, c) }})
	p.onConnect(client)

	client.handler(client, &fakeMessage{topic: "estop/command", payload: []byte(`{"command":"trigger"}`)})
	client.handler(client, &fakeMessage{topic: "estop/command", payload: []byte(`garbage`)})
	client.handler(client, &fakeMessage{topic: "estop/command", payload: []byte(`{"command":"reset"}`)})

	if len(cmds) != 2 || cmds[0] != CommandTrigger || cmds[1] != CommandReset {
		t.Errorf("commands: got %v", cmds)
	}
}

func TestNewRealPublisherRequiresBroker(t *testing.T) {
	if _, err := NewRealPublisher(Options{}); err == nil {
		t.Error("expected error without broker")
	}
}
