// Package websocket implements the duplex feedback channel endpoint.
//
// Connected clients receive the event stream (feedback requests, command
// updates, heartbeats) and send back heartbeat responses and feedback
// submissions. Each client gets a connection_established greeting carrying
// its server-assigned client id immediately after the upgrade.
package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ralphops/ralphctl/internal/domain/events"
	"github.com/ralphops/ralphctl/internal/domain/ports"
	"github.com/ralphops/ralphctl/internal/server/common"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The endpoint binds to loopback by default; origin enforcement is
		// the reverse proxy's job when exposed further.
		return true
	},
}

// MessageHandler handles an inbound client message.
type MessageHandler func(clientID string, message []byte)

// Server is the WebSocket server for the feedback channel.
type Server struct {
	addr           string
	version        string
	server         *http.Server
	messageHandler MessageHandler
	hub            ports.EventHub
	statusProvider common.StatusProvider

	mu      sync.RWMutex
	clients map[string]*Client

	heartbeatDone chan struct{}
	heartbeatSeq  int64
	startTime     time.Time
}

// NewServer creates a WebSocket server. version is echoed to clients in the
// connection greeting.
func NewServer(host string, port int, version string, messageHandler MessageHandler, hub ports.EventHub) *Server {
	addr := fmt.Sprintf("%s:%d", host, port)
	s := &Server{
		addr:           addr,
		version:        version,
		messageHandler: messageHandler,
		hub:            hub,
		clients:        make(map[string]*Client),
		heartbeatDone:  make(chan struct{}),
		startTime:      time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
		// No ReadTimeout/WriteTimeout: they apply to the underlying HTTP
		// connection and would sever long-lived WebSocket connections. The
		// read/write pumps manage their own deadlines.
	}

	return s
}

// SetStatusProvider sets the status provider for heartbeat events.
func (s *Server) SetStatusProvider(provider common.StatusProvider) {
	s.statusProvider = provider
}

// Start starts the WebSocket server and the heartbeat broadcaster.
func (s *Server) Start() error {
	log.Info().Str("addr", s.addr).Msg("websocket server starting")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("websocket server error")
		}
	}()

	go s.heartbeatLoop()

	return nil
}

// Stop gracefully stops the WebSocket server.
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("websocket server stopping")

	close(s.heartbeatDone)

	s.mu.Lock()
	for _, client := range s.clients {
		client.Close()
	}
	s.clients = make(map[string]*Client)
	s.mu.Unlock()

	return s.server.Shutdown(ctx)
}

// handleWebSocket upgrades the request and registers the client.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(conn, s.messageHandler, func(id string) {
		if s.hub != nil {
			s.hub.Unsubscribe(id)
		}
		s.removeClient(id)
	})

	s.mu.Lock()
	s.clients[client.ID()] = client
	s.mu.Unlock()

	if s.hub != nil {
		s.hub.Subscribe(NewClientSubscriber(client))
	}

	log.Info().
		Str("client_id", client.ID()).
		Str("remote_addr", conn.RemoteAddr().String()).
		Msg("feedback client connected")

	client.Start()
	s.greet(client)
}

// greet sends the connection_established event so the client learns its
// server-assigned id before any other traffic.
func (s *Server) greet(client *Client) {
	greeting := events.NewConnectionEstablishedEvent(client.ID(), s.version)
	data, err := greeting.ToJSON()
	if err != nil {
		log.Warn().Err(err).Msg("greeting serialization failed")
		return
	}
	client.Send(data)
}

// removeClient removes a client from the server.
func (s *Server) removeClient(id string) {
	s.mu.Lock()
	delete(s.clients, id)
	s.mu.Unlock()
	log.Info().Str("client_id", id).Msg("feedback client disconnected")
}

// Broadcast sends a message to all connected clients.
func (s *Server) Broadcast(message []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, client := range s.clients {
		client.Send(message)
	}
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// GetClient returns a client by ID.
func (s *Server) GetClient(id string) *Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clients[id]
}

// heartbeatLoop broadcasts periodic application-level heartbeat events.
// Clients arm a local countdown per heartbeat and treat silence as a dead
// connection even when TCP has not noticed yet.
func (s *Server) heartbeatLoop() {
	ticker := time.NewTicker(common.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.heartbeatDone:
			return

		case <-ticker.C:
			s.broadcastHeartbeat()
		}
	}
}

func (s *Server) broadcastHeartbeat() {
	if s.ClientCount() == 0 {
		return
	}

	status := "unknown"
	uptimeSeconds := int64(time.Since(s.startTime).Seconds())
	if s.statusProvider != nil {
		status = s.statusProvider.GetAgentStatus()
		uptimeSeconds = s.statusProvider.GetUptimeSeconds()
	}

	seq := atomic.AddInt64(&s.heartbeatSeq, 1)
	hb := events.NewHeartbeatEvent(seq, status, uptimeSeconds)

	data, err := hb.ToJSON()
	if err != nil {
		log.Warn().Err(err).Msg("heartbeat serialization failed")
		return
	}

	s.Broadcast(data)
	log.Trace().Int64("seq", seq).Msg("heartbeat sent")
}
