package ws

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/feedline/messaging/chat"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 128
)

// Close codes sent to clients.
const (
	CloseSessionReplaced = 4001
)

var (
	errClosed     = errors.New("connection closed")
	errBufferFull = errors.New("connection buffer exceeded")
)

// A frame is a client originated control message.
type frame struct {
	Type string `json:"type"`
}

// Connection wraps a websocket and serialises outbound writes through a
// buffered channel. Send never blocks; a client too slow to drain its buffer
// is disconnected. All socket writes, the close frame included, happen in
// the write loop.
type Connection struct {
	ID     string
	UserID string

	logger *slog.Logger
	ws     *websocket.Conn
	send   chan []byte
	once   sync.Once
	closed chan struct{}

	// Set once, before closed is closed.
	closeCode   int
	closeReason string
}

// NewConnection constructs a Connection for the given user.
func NewConnection(userID string, conn *websocket.Conn, logger *slog.Logger) *Connection {
	id := uuid.NewString()
	return &Connection{
		ID:     id,
		UserID: userID,
		logger: logger.With("connection_id", id, "user_id", userID),
		ws:     conn,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
	}
}

// Send enqueues ev for delivery.
func (c *Connection) Send(ev chat.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.enqueue(payload)
}

func (c *Connection) enqueue(payload []byte) error {
	select {
	case <-c.closed:
		return errClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return errBufferFull
	}
}

// Close marks the connection closed with the given close code and returns
// immediately; the write loop sends the close frame and releases the socket.
// It is safe to call more than once and only the first code is used.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		c.closeCode, c.closeReason = code, reason
		close(c.closed)
	})
}

func (c *Connection) shutdown() {
	msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = c.ws.Close()
}

// Done is closed once the connection has been closed.
func (c *Connection) Done() <-chan struct{} {
	return c.closed
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.shutdown()

	for {
		select {
		case <-c.closed:
			return
		default:
		}
		select {
		case <-c.closed:
			return
		case payload := <-c.send:
			if err := c.write(websocket.TextMessage, payload); err != nil {
				c.logger.Debug("Could not write message", "error", err.Error())
				c.Close(websocket.CloseInternalServerErr, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseInternalServerErr, "ping failed")
				return
			}
		}
	}
}

func (c *Connection) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}

// readLoop blocks until the client goes away. Clients only send keepalive
// frames; messages are sent over HTTP.
func (c *Connection) readLoop() {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, CloseSessionReplaced) {
				c.logger.Warn("Unexpected websocket close", "error", err.Error())
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		if f.Type == "ping" {
			_ = c.enqueue([]byte(`{"type":"pong"}`))
		}
	}
}
