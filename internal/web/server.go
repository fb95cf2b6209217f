// Package web provides the HTTP surface of the daemon: a status page, its
// JSON form, a switch endpoint and Prometheus metrics.
package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"

	"github.com/sweeney/hc-state/internal/logic"
	"github.com/sweeney/hc-state/internal/status"
)

// Switch is the accessory contract. *accessory.Bridge satisfies it.
// The on value is derived from Status so both fields of a response agree.
type Switch interface {
	Status() logic.Status
	SetOn(on bool)
}

// SnapshotSource is satisfied by *status.Tracker.
type SnapshotSource interface {
	Snapshot() status.Snapshot
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    SnapshotSource
	sw         Switch
	log        logr.Logger
}

// OnRequest is the body of PUT /api/on.
type OnRequest struct {
	On *bool `json:"on"`
}

// OnResponse is the body of GET /api/on.
type OnResponse struct {
	On     bool   `json:"on"`
	Status string `json:"status"`
}

// New creates a Server. metrics may be nil to disable /metrics.
func New(addr string, tracker SnapshotSource, sw Switch, metrics http.Handler, log logr.Logger) *Server {
	s := &Server{tracker: tracker, sw: sw, log: log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", s.handleIndex)
	r.Get("/index.html", s.handleIndex)
	r.Get("/index.json", s.handleJSON)
	r.Get("/api/on", s.handleGetOn)
	r.Put("/api/on", s.handleSetOn)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		s.log.Error(err, "render status page")
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleGetOn(w http.ResponseWriter, r *http.Request) {
	st := s.sw.Status()
	writeJSON(w, http.StatusOK, OnResponse{On: st.On(), Status: st.String()})
}

func (s *Server) handleSetOn(w http.ResponseWriter, r *http.Request) {
	var req OnRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil || req.On == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": `expected {"on": true|false}`})
		return
	}
	s.log.Info("switch set over http", "on", *req.On, "remote", r.RemoteAddr)
	s.sw.SetOn(*req.On)
	writeJSON(w, http.StatusAccepted, map[string]bool{"on": *req.On})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
