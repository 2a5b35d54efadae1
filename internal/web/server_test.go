package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/estop-controller/internal/safety"
	"github.com/sweeney/estop-controller/internal/status"
)

type fakeCommander struct {
	origins []string
	err     error
}

func (f *fakeCommander) Trigger(origin string) error {
	if f.err != nil {
		return f.err
	}
	f.origins = append(f.origins, origin)
	return nil
}

func newTestServer(t *testing.T, cmd Commander) (*httptest.Server, *status.Tracker) {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := status.Config{
		TickMs:         1,
		DebounceMs:     50,
		ResetConfirmMs: 1000,
		StuckTimeoutMs: 5000,
		WatchdogMs:     1000,
		Broker:         "tcp://192.168.1.200:1883",
		HTTPAddr:       ":8080",
	}
	tr := status.NewTracker(start, cfg)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("estop_state 1\n"))
	})
	srv := New(":0", tr, metrics, cmd)
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts, tr
}

func TestJSONEndpoint(t *testing.T) {
	ts, tr := newTestServer(t, nil)
	tr.Update(safety.StateTriggered, true,
		safety.Statistics{TriggerCount: 5, LastSource: safety.SourceButton},
		safety.WatchdogStatistics{RefreshCount: 10})
	tr.SetMQTTConnected(true)

	resp, err := http.Get(ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if sj.Status.State != "TRIGGERED" {
		t.Errorf("State: got %q, want TRIGGERED", sj.Status.State)
	}
	if !sj.Status.ButtonPressed {
		t.Error("expected ButtonPressed=true")
	}
	if sj.Status.Triggers.Count != 5 {
		t.Errorf("Triggers.Count: got %d, want 5", sj.Status.Triggers.Count)
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if sj.Status.Config.DebounceMs != 50 {
		t.Errorf("Config.DebounceMs: got %d, want 50", sj.Status.Config.DebounceMs)
	}
}

func TestHTMLEndpointRoot(t *testing.T) {
	ts, tr := newTestServer(t, nil)
	tr.Update(safety.StateArmed, false, safety.Statistics{}, safety.WatchdogStatistics{})

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type: got %q, want text/html", ct)
	}
	var body strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		body.Write(buf[:n])
		if err != nil {
			break
		}
	}
	if !strings.Contains(body.String(), `class="armed">ARMED`) {
		t.Error("page should show ARMED state")
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/nonexistent")
	if err != nil {
		t.Fatalf("GET /nonexistent: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
}

func TestTriggerEndpoint(t *testing.T) {
	cmd := &fakeCommander{}
	ts, _ := newTestServer(t, cmd)

	resp, err := http.Post(ts.URL+"/trigger", "text/plain", nil)
	if err != nil {
		t.Fatalf("POST /trigger: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status: got %d, want 202", resp.StatusCode)
	}
	if len(cmd.origins) != 1 || !strings.HasPrefix(cmd.origins[0], "http ") {
		t.Errorf("origins: got %v", cmd.origins)
	}
}

func TestTriggerEndpointRejectsGet(t *testing.T) {
	cmd := &fakeCommander{}
	ts, _ := newTestServer(t, cmd)

	resp, err := http.Get(ts.URL + "/trigger")
	if err != nil {
		t.Fatalf("GET /trigger: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", resp.StatusCode)
	}
	if len(cmd.origins) != 0 {
		t.Error("GET must not trigger")
	}
}

func TestTriggerEndpointQueueFull(t *testing.T) {
	cmd := &fakeCommander{err: errors.New("command queue full")}
	ts, _ := newTestServer(t, cmd)

	resp, err := http.Post(ts.URL+"/trigger", "text/plain", nil)
	if err != nil {
		t.Fatalf("POST /trigger: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want 503", resp.StatusCode)
	}
}

func TestTriggerDisabled(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/trigger", "text/plain", nil)
	if err != nil {
		t.Fatalf("POST /trigger: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}
