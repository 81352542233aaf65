// Package inspector serves a read-only HTTP view of a running session for
// the experimenter: live events over Server-Sent Events, the current trial,
// and the records written so far.
package inspector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cgast/exemplar/pkg/events"
	"github.com/cgast/exemplar/pkg/session"
	"github.com/cgast/exemplar/pkg/store"
	"github.com/cgast/exemplar/pkg/trial"
)

// RecordSource reads persisted sessions and their records.
type RecordSource interface {
	List(sessionID string) ([]trial.Record, error)
	Sessions() ([]store.Session, error)
}

// Server is the inspector HTTP server.
type Server struct {
	bus     events.EventBus
	runner  *session.Runner
	records RecordSource
	logger  *slog.Logger

	mux       *http.ServeMux
	clients   map[*client]bool
	clientsMu sync.Mutex
	startTime time.Time

	httpSrv *http.Server
	stop    func()
}

// client is one connected event stream.
type client struct {
	send chan []byte
}

// Option configures a Server.
type Option func(*Server)

// WithRecords serves stored sessions from src.
func WithRecords(src RecordSource) Option {
	return func(s *Server) { s.records = src }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates an inspector for runner's session.
func New(bus events.EventBus, runner *session.Runner, opts ...Option) *Server {
	s := &Server{
		bus:       bus,
		runner:    runner,
		logger:    slog.New(slog.DiscardHandler),
		mux:       http.NewServeMux(),
		clients:   make(map[*client]bool),
		startTime: time.Now(),
		stop:      func() {},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("GET /events", s.handleEvents)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/trial", s.handleTrial)
	s.mux.HandleFunc("GET /api/history", s.handleHistory)
	s.mux.HandleFunc("GET /api/records", s.handleRecords)
	s.mux.HandleFunc("GET /api/sessions", s.handleSessions)
	return s
}

// Handler returns the server's routes. It does not start the broadcaster;
// live events reach /events only after Start or Broadcast.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Broadcast forwards bus events to connected streams until ctx is done.
func (s *Server) Broadcast(ctx context.Context) {
	ch := s.bus.Subscribe()
	go func() {
		<-ctx.Done()
		s.bus.Unsubscribe(ch)
	}()
	go s.broadcastEvents(ch)
}

// Start listens on addr and serves in the background. The listener is
// bound before Start returns.
func (s *Server) Start(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("inspector listen %s: %w", addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	s.Broadcast(ctx)

	s.httpSrv = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("inspector stopped", slog.Any("error", err))
		}
	}()
	return ln.Addr(), nil
}

// Shutdown stops the server and ends open event streams.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) broadcastEvents(ch <-chan events.Event) {
	for ev := range ch {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}

		s.clientsMu.Lock()
		for c := range s.clients {
			select {
			case c.send <- data:
			default:
				// Slow client, drop the event.
			}
		}
		s.clientsMu.Unlock()
	}
}

// handleEvents streams events as Server-Sent Events. Retained history is
// replayed first. ?trial= limits the stream to one trial.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	trialID := r.URL.Query().Get("trial")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	c := &client{send: make(chan []byte, 64)}
	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()
	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, c)
		s.clientsMu.Unlock()
	}()

	for _, ev := range s.history(trialID) {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-c.send:
			var ev events.Event
			if err := json.Unmarshal(msg, &ev); err != nil {
				continue
			}
			if trialID != "" && ev.TrialID != trialID {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, msg)
			flusher.Flush()
		}
	}
}

// Status summarizes the session for /api/status.
type Status struct {
	SessionID     string                   `json:"session_id"`
	ParticipantID string                   `json:"participant_id,omitempty"`
	StudyID       string                   `json:"study_id,omitempty"`
	Study         string                   `json:"study,omitempty"`
	Progress      *trial.Progress          `json:"progress,omitempty"`
	Finished      bool                     `json:"finished"`
	Completed     int                      `json:"completed"`
	Events        int                      `json:"events"`
	Counts        map[events.EventType]int `json:"counts"`
	Uptime        string                   `json:"uptime"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	meta := s.runner.Session()
	history := s.bus.History(time.Time{})

	st := Status{
		SessionID:     meta.ID,
		ParticipantID: meta.ParticipantID,
		StudyID:       meta.StudyID,
		Finished:      s.runner.Finished(),
		Completed:     len(s.runner.Records()),
		Events:        len(history),
		Counts:        make(map[events.EventType]int),
		Uptime:        time.Since(s.startTime).Round(time.Second).String(),
	}
	if study, ok := s.runner.Study(); ok {
		st.Study = study.Meta.Name
	}
	if view, err := s.runner.View(); err == nil {
		st.Progress = &view.Progress
	}
	for _, ev := range history {
		st.Counts[ev.Type]++
	}

	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleTrial(w http.ResponseWriter, r *http.Request) {
	view, err := s.runner.View()
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.history(r.URL.Query().Get("trial")))
}

// handleRecords lists the current session's records, or those of
// ?session= from the record source.
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session")
	if id == "" || id == s.runner.Session().ID {
		writeJSON(w, http.StatusOK, nonNil(s.runner.Records()))
		return
	}
	if s.records == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no record store configured"})
		return
	}

	recs, err := s.records.List(id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		s.logger.Error("listing records", slog.String("session_id", id), slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, nonNil(recs))
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		writeJSON(w, http.StatusOK, []store.Session{})
		return
	}
	sessions, err := s.records.Sessions()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if sessions == nil {
		sessions = []store.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) history(trialID string) []events.Event {
	if trialID == "" {
		return nonNilEvents(s.bus.History(time.Time{}))
	}
	return nonNilEvents(s.bus.TrialHistory(trialID))
}

func nonNil(recs []trial.Record) []trial.Record {
	if recs == nil {
		return []trial.Record{}
	}
	return recs
}

func nonNilEvents(evs []events.Event) []events.Event {
	if evs == nil {
		return []events.Event{}
	}
	return evs
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
