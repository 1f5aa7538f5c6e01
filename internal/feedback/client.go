package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ralphops/ralphctl/internal/domain"
	"github.com/ralphops/ralphctl/internal/domain/events"
	"github.com/rs/zerolog/log"
)

// Client maintains the duplex connection to a session's feedback endpoint.
// On transport drop it reconnects after a fixed backoff, indefinitely; at
// this scale no exponential backoff is needed. While disconnected an
// outstanding request stays displayed but submissions fail.
type Client struct {
	wsURL     string
	submitURL string
	tracker   *Tracker

	backoff   time.Duration
	keepAlive time.Duration

	httpClient *http.Client

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	clientID  string
}

// NewClient creates a feedback client for the given WebSocket and submission
// endpoints.
func NewClient(wsURL, submitURL string, tracker *Tracker, backoff, keepAlive time.Duration) *Client {
	if backoff <= 0 {
		backoff = 3 * time.Second
	}
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}
	return &Client{
		wsURL:      wsURL,
		submitURL:  submitURL,
		tracker:    tracker,
		backoff:    backoff,
		keepAlive:  keepAlive,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Run connects and processes messages until ctx is cancelled, reconnecting
// after the fixed backoff on every drop.
func (c *Client) Run(ctx context.Context) {
	for {
		if err := c.runOnce(ctx); err != nil {
			log.Warn().Err(err).Dur("backoff", c.backoff).Msg("feedback connection lost")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.backoff):
		}
	}
}

// Connected reports whether the duplex connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// ClientID returns the identifier assigned by the server on the last
// connection_established, for diagnostics.
func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

func (c *Client) runOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return domain.NewTransportError("connect", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.connected = false
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()

	log.Info().Str("url", c.wsURL).Msg("feedback channel connected")

	// Keep-alive sender, stopped with the read loop.
	done := make(chan struct{})
	defer close(done)
	go c.keepAliveLoop(conn, done)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(c.keepAlive * 3))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("reading feedback message: %w", err)
		}
		c.handleMessage(conn, data)
	}
}

func (c *Client) keepAliveLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			msg, _ := events.NewEvent(events.EventTypeHeartbeat, nil).ToJSON()
			c.mu.Lock()
			err := conn.WriteMessage(websocket.TextMessage, msg)
			c.mu.Unlock()
			if err != nil {
				log.Debug().Err(err).Msg("feedback keepalive write failed")
				return
			}
		}
	}
}

// handleMessage routes one inbound wire message.
func (c *Client) handleMessage(conn *websocket.Conn, data []byte) {
	var envelope struct {
		Type events.EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		log.Warn().Err(err).Msg("feedback: unparseable message")
		return
	}

	switch envelope.Type {
	case events.EventTypeFeedbackRequest:
		var req events.FeedbackRequestEvent
		if err := json.Unmarshal(data, &req); err != nil {
			log.Warn().Err(err).Msg("feedback: bad feedback_request")
			return
		}
		c.tracker.Begin(Request{
			ID:               req.RequestID,
			Message:          req.Message,
			Options:          req.Options,
			TimeoutSeconds:   req.TimeoutSeconds,
			ProjectDirectory: req.ProjectDirectory,
			CreatedAt:        req.EventTime,
		})

	case events.EventTypeHeartbeat:
		msg, _ := events.NewEvent(events.EventTypeHeartbeatResponse, nil).ToJSON()
		c.mu.Lock()
		_ = conn.WriteMessage(websocket.TextMessage, msg)
		c.mu.Unlock()

	case events.EventTypeConnectionEstablished:
		var ev struct {
			Payload events.ConnectionEstablishedPayload `json:"payload"`
		}
		if err := json.Unmarshal(data, &ev); err == nil {
			c.mu.Lock()
			c.clientID = ev.Payload.ClientID
			c.mu.Unlock()
			log.Debug().Str("client_id", ev.Payload.ClientID).Msg("feedback connection established")
		}

	default:
		log.Trace().Str("type", string(envelope.Type)).Msg("feedback: ignoring event")
	}
}

// submissionBody is the feedback submission wire shape.
type submissionBody struct {
	Feedback string      `json:"feedback"`
	Images   interface{} `json:"images"`
	Settings interface{} `json:"settings"`
}

// errorBody is the structured error returned by the submission endpoint.
type errorBody struct {
	Detail string `json:"detail"`
}

// Submit validates the answer locally against the tracker, then posts it to
// the submission endpoint. Validation errors never reach the remote side.
func (c *Client) Submit(requestID, feedbackText, selectedOption string) error {
	if err := c.tracker.Validate(requestID, feedbackText, selectedOption); err != nil {
		return err
	}

	// The request stays displayed while disconnected; only the submission
	// itself fails until the channel is back.
	if !c.Connected() {
		return domain.NewTransportError("submit", fmt.Errorf("feedback channel disconnected"))
	}

	text := feedbackText
	if selectedOption != "" {
		text = selectedOption
	}
	body, err := json.Marshal(submissionBody{Feedback: text})
	if err != nil {
		return fmt.Errorf("encoding submission: %w", err)
	}

	resp, err := c.httpClient.Post(c.submitURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return domain.NewTransportError("submit", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var e errorBody
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Detail == "" {
			e.Detail = resp.Status
		}
		return fmt.Errorf("submission rejected: %s", e.Detail)
	}

	// Resolve locally only after the remote side accepted. A request
	// superseded in the meantime loses gracefully here.
	return c.tracker.Submit(requestID, feedbackText, selectedOption)
}
