// Package web provides an HTTP status server for the estopd daemon.
package web

import (
	"context"
	"log"
	"net/http"

	"github.com/sweeney/estop-controller/internal/status"
)

// Commander accepts stop requests on behalf of the safety loop.
type Commander interface {
	// Trigger requests a software emergency stop. It must not block.
	Trigger(origin string) error
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	commander  Commander
}

// New creates a Server that reads state from the given tracker. metrics may
// be nil to disable /metrics; commander may be nil to disable /trigger.
func New(addr string, tracker *status.Tracker, metrics http.Handler, commander Commander) *Server {
	s := &Server{tracker: tracker, commander: commander}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/trigger", s.handleTrigger)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.commander == nil {
		http.Error(w, "trigger disabled", http.StatusNotFound)
		return
	}
	if err := s.commander.Trigger("http " + r.RemoteAddr); err != nil {
		log.Printf("http trigger rejected: %v", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
