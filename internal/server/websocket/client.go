package websocket

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ralphops/ralphctl/internal/server/common"
	"github.com/rs/zerolog/log"
)

// Client is one connected feedback client.
//
// Each client runs a read pump (inbound messages to the handler) and a write
// pump (outbound events from its send buffer, plus ping frames). Send is safe
// from any goroutine; Close is idempotent.
type Client struct {
	id             string
	conn           *websocket.Conn
	outbox         *common.SendBuffer
	messageHandler MessageHandler
	onClose        func(id string)
}

// NewClient creates a client for an upgraded connection.
func NewClient(conn *websocket.Conn, messageHandler MessageHandler, onClose func(id string)) *Client {
	id := uuid.New().String()
	return &Client{
		id:             id,
		conn:           conn,
		outbox:         common.NewSendBuffer(id, common.SendBufferSize),
		messageHandler: messageHandler,
		onClose:        onClose,
	}
}

// ID returns the client's unique identifier.
func (c *Client) ID() string {
	return c.id
}

// Start starts the client's read and write pumps.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// Send queues a message for delivery. Messages to a slow client are dropped,
// not queued unboundedly.
func (c *Client) Send(message []byte) {
	_ = c.outbox.Send(message)
}

// Close closes the client connection.
func (c *Client) Close() {
	c.outbox.Close()
}

// Closed reports whether the client has been closed.
func (c *Client) Closed() bool {
	return c.outbox.IsClosed()
}

// Done returns a channel closed when the client is closed.
func (c *Client) Done() <-chan struct{} {
	return c.outbox.Done()
}

// readPump pumps inbound messages to the message handler.
func (c *Client) readPump() {
	defer func() {
		c.Close()
		_ = c.conn.Close()
		if c.onClose != nil {
			c.onClose(c.id)
		}
	}()

	c.conn.SetReadLimit(common.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(common.PongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(common.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("client_id", c.id).Msg("websocket read error")
			}
			return
		}

		if c.messageHandler != nil {
			c.messageHandler(c.id, message)
		}
	}
}

// writePump pumps outbox messages to the connection. Each message goes out
// as its own text frame so clients never see concatenated JSON objects.
func (c *Client) writePump() {
	ticker := time.NewTicker(common.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.SetWriteDeadline(time.Now().Add(common.WriteWait))
		_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.outbox.Done():
			return

		case message, ok := <-c.outbox.Channel():
			if !ok {
				return
			}

			_ = c.conn.SetWriteDeadline(time.Now().Add(common.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("client_id", c.id).Msg("write error")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(common.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("client_id", c.id).Msg("ping error")
				return
			}
		}
	}
}
