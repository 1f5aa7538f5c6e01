// Package http implements the control API: command submission, session
// status, feedback answers and outcome history over REST.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/ralphops/ralphctl/internal/audit"
	"github.com/ralphops/ralphctl/internal/domain"
	"github.com/ralphops/ralphctl/internal/domain/commands"
	"github.com/ralphops/ralphctl/internal/feedback"
	"github.com/ralphops/ralphctl/internal/server/http/middleware"
	"github.com/ralphops/ralphctl/internal/session"
	"github.com/rs/zerolog/log"
)

// CommandDispatcher is the command channel surface the API needs.
type CommandDispatcher interface {
	Dispatch(ctx context.Context, sessionID string, typ commands.Type, payload map[string]string, timeout time.Duration) (*commands.Command, error)
	Get(commandID string) *commands.Command
}

// Server is the control API server.
type Server struct {
	addr    string
	version string

	dispatcher     CommandDispatcher
	registry       *session.Registry
	tracker        *feedback.Tracker
	store          *audit.Store
	defaultTimeout time.Duration

	httpServer *http.Server
	limiter    *middleware.RateLimiter
}

// NewServer creates the control API server. store may be nil when no audit
// database is configured.
func NewServer(host string, port int, version string, dispatcher CommandDispatcher, registry *session.Registry, tracker *feedback.Tracker, store *audit.Store, defaultTimeout time.Duration) *Server {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &Server{
		addr:           fmt.Sprintf("%s:%d", host, port),
		version:        version,
		dispatcher:     dispatcher,
		registry:       registry,
		tracker:        tracker,
		store:          store,
		defaultTimeout: defaultTimeout,
		limiter:        middleware.NewRateLimiter(0, 0),
	}
}

// Router builds the route table. Exposed for tests.
func (s *Server) Router() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}/control", s.handleControl).Methods("POST")
	api.HandleFunc("/sessions/{id}/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/sessions/{id}/history", s.handleHistory).Methods("GET")
	api.HandleFunc("/commands/{id}", s.handleGetCommand).Methods("GET")
	api.HandleFunc("/feedback", s.handleFeedback).Methods("POST")

	return corsMiddleware(middleware.RateLimit(s.limiter)(router))
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("control api starting")
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("control api error")
		}
	}()
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("control api stopping")
	s.limiter.Close()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: s.version})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ids := s.registry.List()
	statuses := make([]session.Status, 0, len(ids))
	for _, id := range ids {
		statuses = append(statuses, s.registry.Status(id))
	}
	writeJSON(w, http.StatusOK, statuses)
}

// handleControl dispatches a control command to a session. The response is
// returned as soon as the command is on the wire; callers poll the command
// resource or the status endpoint for the outcome.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	var req ControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	typ := commands.Type(req.Command)
	if !typ.IsValid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown command %q", req.Command))
		return
	}

	timeout := s.defaultTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	cmd, err := s.dispatcher.Dispatch(r.Context(), sessionID, typ, req.Metadata, timeout)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrTransport) {
			status = http.StatusBadGateway
		}
		writeError(w, status, err.Error())
		return
	}

	s.registry.Track(sessionID)

	writeJSON(w, http.StatusAccepted, ControlResponse{
		CommandID: cmd.ID,
		Status:    cmd.Status,
		CreatedAt: cmd.CreatedAt,
		TimeoutAt: cmd.TimeoutAt,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	writeJSON(w, http.StatusOK, s.registry.Status(sessionID))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "audit history not configured")
		return
	}
	sessionID := mux.Vars(r)["id"]

	records, err := s.store.List(sessionID, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	cmd := s.dispatcher.Get(mux.Vars(r)["id"])
	if cmd == nil {
		writeError(w, http.StatusNotFound, "unknown command")
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

// handleFeedback resolves the current feedback request with the submitted
// answer. Text matching one of the request's options is treated as an option
// selection; anything else is free-form feedback.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var sub FeedbackSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cur := s.tracker.Current()
	if cur == nil {
		writeError(w, http.StatusNotFound, "no active feedback request")
		return
	}

	feedbackText, selectedOption := sub.Feedback, ""
	for _, opt := range cur.Options {
		if strings.EqualFold(opt, sub.Feedback) {
			feedbackText, selectedOption = "", opt
			break
		}
	}

	if err := s.tracker.Submit(cur.ID, feedbackText, selectedOption); err != nil {
		switch {
		case errors.Is(err, domain.ErrNoActiveRequest), errors.Is(err, domain.ErrRequestResolved):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted", "request_id": cur.ID})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("response encoding failed")
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}

// corsMiddleware permits browser-based dashboards to call the API.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
