// Package web provides an HTTP status server for the lockbox daemon, plus
// optional debug routes that drive the controller.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sweeney/lockbox/internal/journal"
	"github.com/sweeney/lockbox/internal/logic"
	"github.com/sweeney/lockbox/internal/status"
)

// SessionLister lists recent lock sessions and their events.
type SessionLister interface {
	Recent(n int) ([]journal.Session, error)
	Events(sessionID string) ([]journal.Entry, error)
}

// Controller runs fn on the goroutine that owns the machine and returns the
// snapshot it produced.
type Controller interface {
	Do(ctx context.Context, fn func(*logic.Machine) logic.Snapshot) (logic.Snapshot, error)
}

// Options wires optional server features. Nil fields disable them.
type Options struct {
	Sessions SessionLister
	Debug    Controller
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	opts       Options
}

// New creates a Server that reads state from the given tracker.
func New(addr string, tracker *status.Tracker, opts Options) *Server {
	s := &Server{tracker: tracker, opts: opts}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.html", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.json", s.handleJSON).Methods(http.MethodGet)
	if opts.Sessions != nil {
		r.HandleFunc("/sessions.json", s.handleSessions).Methods(http.MethodGet)
		r.HandleFunc("/sessions/{id}/events.json", s.handleSessionEvents).Methods(http.MethodGet)
	}
	if opts.Debug != nil {
		d := r.PathPrefix("/debug").Methods(http.MethodPost).Subrouter()
		d.HandleFunc("/button/{name}/{action:press|release|click}", s.handleButton)
		d.HandleFunc("/up", s.command(func(m *logic.Machine) logic.Snapshot { return m.Up() }))
		d.HandleFunc("/down", s.command(func(m *logic.Machine) logic.Snapshot { return m.Down() }))
		d.HandleFunc("/lid", s.command(func(m *logic.Machine) logic.Snapshot { return m.ToggleLid() }))
		d.HandleFunc("/unlock", s.command(func(m *logic.Machine) logic.Snapshot { return m.DebugUnlock() }))
		d.HandleFunc("/child-lock", s.command(func(m *logic.Machine) logic.Snapshot { return m.ToggleChildLock() }))
		d.HandleFunc("/factory-reset", s.command(func(m *logic.Machine) logic.Snapshot { return m.FactoryReset() }))
		d.HandleFunc("/fast-forward", s.handleFastForward)
		d.HandleFunc("/reduce-time", s.handleReduceTime)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the server's router. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
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
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// SessionJSON is the JSON representation of a journal session.
type SessionJSON struct {
	ID             string `json:"id"`
	Mode           string `json:"mode"`
	StartedAt      string `json:"started_at"`
	EndedAt        string `json:"ended_at,omitempty"`
	PlannedSeconds int64  `json:"planned_seconds"`
	LockedSeconds  int64  `json:"locked_seconds"`
	EndReason      string `json:"end_reason,omitempty"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			http.Error(w, "limit must be 1-500", http.StatusBadRequest)
			return
		}
		limit = n
	}

	sessions, err := s.opts.Sessions.Recent(limit)
	if err != nil {
		http.Error(w, "journal unavailable", http.StatusInternalServerError)
		return
	}

	out := make([]SessionJSON, 0, len(sessions))
	for _, sess := range sessions {
		sj := SessionJSON{
			ID:             sess.ID,
			Mode:           sess.Mode,
			StartedAt:      sess.StartedAt.UTC().Format(time.RFC3339),
			PlannedSeconds: sess.PlannedSeconds,
			LockedSeconds:  sess.LockedSeconds,
			EndReason:      sess.EndReason,
		}
		if sess.EndedAt != nil {
			sj.EndedAt = sess.EndedAt.UTC().Format(time.RFC3339)
		}
		out = append(out, sj)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// EntryJSON is the JSON representation of a journal event.
type EntryJSON struct {
	Seq    int64  `json:"seq"`
	Type   string `json:"type"`
	At     string `json:"at"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	entries, err := s.opts.Sessions.Events(id)
	if err != nil {
		http.Error(w, "journal unavailable", http.StatusInternalServerError)
		return
	}
	// Every session opens with a LOCKED event.
	if len(entries) == 0 {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	out := make([]EntryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, EntryJSON{
			Seq:    e.Seq,
			Type:   e.Type,
			At:     e.At.UTC().Format(time.RFC3339),
			Detail: e.Detail,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": id, "events": out})
}

func (s *Server) command(fn func(*logic.Machine) logic.Snapshot) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.run(w, r, fn)
	}
}

func (s *Server) run(w http.ResponseWriter, r *http.Request, fn func(*logic.Machine) logic.Snapshot) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	snap, err := s.opts.Debug.Do(ctx, fn)
	if err != nil {
		code := http.StatusServiceUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			code = http.StatusGatewayTimeout
		}
		http.Error(w, err.Error(), code)
		return
	}
	writeJSON(w, http.StatusOK, status.BuildBox(snap))
}

func (s *Server) handleButton(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	b, ok := logic.ParseButton(vars["name"])
	if !ok {
		http.Error(w, "unknown button", http.StatusNotFound)
		return
	}

	var fn func(*logic.Machine) logic.Snapshot
	switch vars["action"] {
	case "press":
		fn = func(m *logic.Machine) logic.Snapshot { return m.SetButton(b, true) }
	case "release":
		fn = func(m *logic.Machine) logic.Snapshot { return m.SetButton(b, false) }
	default:
		fn = func(m *logic.Machine) logic.Snapshot {
			m.SetButton(b, true)
			return m.SetButton(b, false)
		}
	}
	s.run(w, r, fn)
}

func (s *Server) handleFastForward(w http.ResponseWriter, r *http.Request) {
	d, ok := seconds(w, r)
	if !ok {
		return
	}
	s.run(w, r, func(m *logic.Machine) logic.Snapshot { return m.DebugFastForward(d) })
}

func (s *Server) handleReduceTime(w http.ResponseWriter, r *http.Request) {
	d, ok := seconds(w, r)
	if !ok {
		return
	}
	s.run(w, r, func(m *logic.Machine) logic.Snapshot { return m.DebugReduceTime(d) })
}

// maxSeconds is the largest "seconds" value that fits in a time.Duration.
const maxSeconds = math.MaxInt64 / int64(time.Second)

// seconds reads the "seconds" query parameter, 0 to maxSeconds.
func seconds(w http.ResponseWriter, r *http.Request) (time.Duration, bool) {
	n, err := strconv.ParseInt(r.URL.Query().Get("seconds"), 10, 64)
	if err != nil || n < 0 || n > maxSeconds {
		http.Error(w, fmt.Sprintf("seconds must be an integer from 0 to %d", maxSeconds), http.StatusBadRequest)
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
