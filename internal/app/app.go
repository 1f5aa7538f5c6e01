// Package app orchestrates the ralphctl daemon: event hub, command channel,
// feedback tracker, session registry and the two server surfaces.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ralphops/ralphctl/internal/audit"
	"github.com/ralphops/ralphctl/internal/command"
	"github.com/ralphops/ralphctl/internal/config"
	"github.com/ralphops/ralphctl/internal/domain/commands"
	"github.com/ralphops/ralphctl/internal/domain/events"
	"github.com/ralphops/ralphctl/internal/feedback"
	"github.com/ralphops/ralphctl/internal/heartbeat"
	"github.com/ralphops/ralphctl/internal/hub"
	httpserver "github.com/ralphops/ralphctl/internal/server/http"
	"github.com/ralphops/ralphctl/internal/server/websocket"
	"github.com/ralphops/ralphctl/internal/session"
	"github.com/rs/zerolog/log"
)

// App is the daemon composition root. It runs alongside one agent session:
// it records that session's heartbeat, answers its control commands, and
// serves the control API and feedback channel for supervisors and clients.
type App struct {
	cfg       *config.Config
	version   string
	sessionID string

	hub       *hub.Hub
	transport *command.FileTransport
	channel   *command.Channel
	tracker   *feedback.Tracker
	registry  *session.Registry
	monitor   *heartbeat.Monitor
	recorder  *heartbeat.Recorder
	responder *command.Responder
	store     *audit.Store
	wsServer  *websocket.Server
	apiServer *httpserver.Server

	helperID  string
	startTime time.Time
	stopCh    chan struct{}
	stopOnce  sync.Once

	mu      sync.RWMutex
	running bool
	paused  bool
}

// New creates the daemon and wires its components.
func New(cfg *config.Config, version, sessionID string) (*App, error) {
	if err := config.EnsureStateDir(cfg); err != nil {
		return nil, err
	}

	a := &App{
		cfg:       cfg,
		version:   version,
		sessionID: sessionID,
		hub:       hub.New(),
		helperID:  uuid.New().String(),
		stopCh:    make(chan struct{}),
	}

	a.transport = command.NewFileTransport(
		filepath.Join(cfg.Session.StateDir, "sessions"),
		time.Duration(cfg.Command.PollIntervalMS)*time.Millisecond,
	)
	a.channel = command.NewChannel(a.helperID, a.transport, a.hub)
	a.tracker = feedback.NewTracker(a.hub)
	a.monitor = heartbeat.NewMonitor(
		cfg.Session.HeartbeatFile,
		time.Duration(cfg.Session.StuckAfterSeconds)*time.Second,
		nil,
	)
	a.registry = session.NewRegistry(a.sessionOnline, a.channel)
	a.recorder = heartbeat.NewRecorder(cfg.Session.HeartbeatFile)
	a.responder = command.NewResponder(sessionID, a.transport, command.ControlHandlerFunc(a.applyControl), a.recorder)

	store, err := audit.Open(cfg.Audit.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening audit store: %w", err)
	}
	a.store = store

	a.wsServer = websocket.NewServer(cfg.Server.Host, cfg.Server.WSPort, version, a.handleClientMessage, a.hub)
	a.wsServer.SetStatusProvider(a)

	a.apiServer = httpserver.NewServer(
		cfg.Server.Host, cfg.Server.Port, version,
		a.channel, a.registry, a.tracker, a.store,
		time.Duration(cfg.Command.DefaultTimeoutSeconds)*time.Second,
	)

	return a, nil
}

// Start starts all components and blocks until ctx is cancelled.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	a.running = true
	a.startTime = time.Now()
	a.mu.Unlock()

	if err := a.hub.Start(); err != nil {
		return fmt.Errorf("starting event hub: %w", err)
	}

	// Event log tap: every coordination event leaves a trace in the daemon
	// log, independent of any connected client.
	a.hub.Subscribe(hub.NewFuncSubscriber("event-log", func(e events.Event) {
		log.Debug().
			Str("event_type", string(e.Type())).
			Str("session_id", e.GetSessionID()).
			Msg("coordination event")
	}))

	if err := a.wsServer.Start(); err != nil {
		return fmt.Errorf("starting websocket server: %w", err)
	}
	if err := a.apiServer.Start(); err != nil {
		return fmt.Errorf("starting control api: %w", err)
	}

	a.registry.Track(a.sessionID)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.reapLoop(runCtx)
	go a.heartbeatLoop(runCtx)
	go func() {
		if err := a.responder.Run(runCtx); err != nil {
			log.Error().Err(err).Msg("command intake stopped")
		}
	}()

	log.Info().
		Str("helper_id", a.helperID).
		Str("session_id", a.sessionID).
		Str("version", a.version).
		Int("api_port", a.cfg.Server.Port).
		Int("ws_port", a.cfg.Server.WSPort).
		Msg("daemon started")

	select {
	case <-ctx.Done():
	case <-a.stopCh:
		log.Info().Msg("stop requested by control command")
	}
	return a.stop()
}

func (a *App) stop() error {
	log.Info().Msg("daemon stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.apiServer.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("control api shutdown")
	}
	if err := a.wsServer.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("websocket server shutdown")
	}
	if err := a.hub.Stop(); err != nil {
		log.Warn().Err(err).Msg("event hub shutdown")
	}
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("audit store close")
	}

	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
	return nil
}

// sessionOnline answers the registry's liveness probe from the heartbeat
// record. Stuck still counts as online; only dead sessions are offline.
func (a *App) sessionOnline(sessionID string) bool {
	return a.monitor.Check(sessionID).State != heartbeat.StateDead
}

// reapLoop drops sessions whose agent process has gone away.
func (a *App) reapLoop(ctx context.Context) {
	interval := time.Duration(a.cfg.Session.HeartbeatIntervalMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range a.registry.List() {
				if !a.sessionOnline(id) {
					log.Info().Str("session_id", id).Msg("reaping dead session")
					a.registry.Reap(id)
				}
			}
		}
	}
}

// handleClientMessage routes inbound WebSocket traffic. Agents raise
// feedback requests here; feedback clients send keep-alives.
func (a *App) handleClientMessage(clientID string, message []byte) {
	var envelope struct {
		Type events.EventType `json:"type"`
	}
	if err := json.Unmarshal(message, &envelope); err != nil {
		log.Warn().Err(err).Str("client_id", clientID).Msg("unparseable client message")
		return
	}

	switch envelope.Type {
	case events.EventTypeFeedbackRequest:
		var req events.FeedbackRequestEvent
		if err := json.Unmarshal(message, &req); err != nil {
			log.Warn().Err(err).Str("client_id", clientID).Msg("bad feedback_request")
			return
		}
		if req.SessionID != "" {
			a.registry.Track(req.SessionID)
		}
		a.tracker.Begin(feedback.Request{
			ID:               req.RequestID,
			Message:          req.Message,
			Options:          req.Options,
			TimeoutSeconds:   req.TimeoutSeconds,
			ProjectDirectory: req.ProjectDirectory,
			CreatedAt:        req.EventTime,
		})

	case events.EventTypeHeartbeat, events.EventTypeHeartbeatResponse:
		log.Trace().Str("client_id", clientID).Str("type", string(envelope.Type)).Msg("client keep-alive")

	default:
		log.Debug().Str("client_id", clientID).Str("type", string(envelope.Type)).Msg("ignoring client message")
	}
}

// heartbeatLoop keeps the session's heartbeat record fresh while the daemon
// is up.
func (a *App) heartbeatLoop(ctx context.Context) {
	interval := time.Duration(a.cfg.Session.HeartbeatIntervalMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.mu.RLock()
			paused := a.paused
			a.mu.RUnlock()
			if paused {
				a.recorder.Record("paused")
			} else {
				a.recorder.Record("idle")
			}
		}
	}
}

// applyControl handles supervisor commands on behalf of the session.
func (a *App) applyControl(_ context.Context, typ commands.Type, payload map[string]string) (commands.ResponsePayload, error) {
	switch typ {
	case commands.TypePing:
		return commands.ResponsePayload{Status: "ok"}, nil

	case commands.TypeDiagnose:
		return a.diagnose(), nil

	case commands.TypePause:
		a.setPaused(true)
		return commands.ResponsePayload{Status: "ok"}, nil

	case commands.TypeResume:
		a.setPaused(false)
		return commands.ResponsePayload{Status: "ok"}, nil

	case commands.TypeSkip:
		log.Info().Msg("skip requested for current task")
		return commands.ResponsePayload{Status: "ok"}, nil

	case commands.TypeSuggest:
		log.Info().
			Str("action", payload["action"]).
			Str("reason", payload["reason"]).
			Msg("remedial suggestion received")
		return commands.ResponsePayload{Status: "ok"}, nil

	case commands.TypeStop, commands.TypeAbort:
		a.requestStop()
		return commands.ResponsePayload{Status: "ok"}, nil

	default:
		return commands.ResponsePayload{}, fmt.Errorf("unsupported command %s", typ)
	}
}

// diagnose builds the diagnostic snapshot from the heartbeat record. The
// stuck duration is the heartbeat age once it crosses the stuck threshold.
func (a *App) diagnose() commands.ResponsePayload {
	payload := commands.ResponsePayload{Status: "ok"}

	rec, err := heartbeat.ReadRecord(a.cfg.Session.HeartbeatFile)
	if err != nil {
		payload.LastError = "heartbeat record unavailable"
		return payload
	}

	payload.CurrentTask = rec.Status
	age := time.Since(rec.Timestamp)
	if age > time.Duration(a.cfg.Session.StuckAfterSeconds)*time.Second {
		payload.StuckDuration = int(age.Seconds())
	}
	return payload
}

func (a *App) setPaused(paused bool) {
	a.mu.Lock()
	a.paused = paused
	a.mu.Unlock()
	if paused {
		a.recorder.Record("paused")
	} else {
		a.recorder.Record("resumed")
	}
}

func (a *App) requestStop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
}

// GetAgentStatus implements common.StatusProvider from the heartbeat record.
func (a *App) GetAgentStatus() string {
	rec, err := heartbeat.ReadRecord(a.cfg.Session.HeartbeatFile)
	if err != nil {
		return "unknown"
	}
	return rec.Status
}

// GetUptimeSeconds implements common.StatusProvider.
func (a *App) GetUptimeSeconds() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.startTime.IsZero() {
		return 0
	}
	return int64(time.Since(a.startTime).Seconds())
}
