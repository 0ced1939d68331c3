package ws

import (
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
)

// Client is one live websocket connection bound to an authenticated user.
// Outbound frames go through the buffered Send channel; a single write pump
// goroutine owns the socket for writes.
type Client struct {
	UserID    string
	Connected time.Time

	conn   *websocket.Conn
	send   chan []byte
	mu     sync.Mutex
	closed bool
}

func NewClient(conn *websocket.Conn, userID string) *Client {
	return &Client{
		UserID:    userID,
		Connected: time.Now().UTC(),
		conn:      conn,
		send:      make(chan []byte, 256),
	}
}

// TrySend queues a frame without blocking; a consumer that cannot keep up
// loses frames instead of stalling the hub.
func (c *Client) TrySend(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}
}

// WritePump drains the send channel onto the socket and keeps the connection
// alive with pings. Returns when the channel closes or a write fails.
func (c *Client) WritePump(pingInterval, writeDeadline time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(time.Second)); err != nil {
				return
			}
		}
	}
}
