package ws

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// wire is the write side of a websocket connection. *websocket.Conn
// satisfies it; tests substitute a fake.
type wire interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

const writeWait = 10 * time.Second

// Conn is one authenticated client connection. Writes are serialized by
// an internal mutex so broadcasts and the heartbeat never interleave
// frames.
type Conn struct {
	UserID         int64
	OrganizationID int64
	UserName       string
	SessionID      string

	sock      wire
	writeMu   sync.Mutex
	missed    atomic.Int32
	done      chan struct{}
	closeOnce sync.Once
	limiter   *limiter
}

// NewConn wraps an upgraded socket with the caller's identity. The
// session ID pins presence claims to this connection.
func NewConn(sock wire, userID, orgID int64, userName string, now time.Time) *Conn {
	return &Conn{
		UserID:         userID,
		OrganizationID: orgID,
		UserName:       userName,
		SessionID:      fmt.Sprintf("%d-%d", userID, now.UnixMilli()),
		sock:           sock,
		done:           make(chan struct{}),
		limiter:        newLimiter(rateLimitWindow, rateLimitBurst),
	}
}

// Send writes one text frame. Errors are returned so the caller can drop
// the connection.
func (c *Conn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.sock.WriteMessage(websocket.TextMessage, data)
}

// ping sends a protocol-level ping control frame.
func (c *Conn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.sock.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// PongReceived resets the missed-heartbeat counter. The transport's
// pong handler must call it.
func (c *Conn) PongReceived() {
	c.missed.Store(0)
}

// allowMessage applies the per-connection rate limit.
func (c *Conn) allowMessage(now time.Time) bool {
	return c.limiter.allow(now)
}

// CloseWith sends a close frame with the given code and reason, then
// tears the socket down. Safe to call more than once.
func (c *Conn) CloseWith(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(code, reason)
		c.writeMu.Lock()
		_ = c.sock.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		c.writeMu.Unlock()
		_ = c.sock.Close()
	})
}
