// Package websocket is the connection front-end: it upgrades and
// authenticates glasses and TPA sockets, owns their read loops, and routes
// inbound frames into the session core.
package websocket

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// writeWait bounds every outbound write.
const writeWait = 10 * time.Second

// ErrConnClosed is returned for writes on a closed connection.
var ErrConnClosed = errors.New("connection closed")

// Conn wraps a gorilla websocket connection with serialized writes and an
// explicit open flag. It is the concrete channel handed to the session,
// heartbeat, and photo layers.
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex
	closed  atomic.Bool
}

// NewConn wraps an upgraded websocket connection.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// WriteJSON sends one JSON frame.
func (c *Conn) WriteJSON(v any) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

// WriteBinary sends one binary frame.
func (c *Conn) WriteBinary(data []byte) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

// Ping sends a ping control frame carrying the payload.
func (c *Conn) Ping(payload []byte) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, payload, time.Now().Add(writeWait))
}

// Close starts an orderly close with the given code and reason, then drops
// the transport. Idempotent.
func (c *Conn) Close(code int, reason string) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	msg := websocket.FormatCloseMessage(code, reason)
	c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	return c.ws.Close()
}

// ForceClose tears the transport down immediately, skipping the close
// handshake.
func (c *Conn) ForceClose() {
	c.closed.Store(true)
	c.ws.Close()
}

// IsOpen reports whether the connection is still usable.
func (c *Conn) IsOpen() bool {
	return !c.closed.Load()
}

// markClosed flags the connection closed without touching the transport.
// Called when the read loop observes the peer going away.
func (c *Conn) markClosed() {
	c.closed.Store(true)
}

// RemoteAddr returns the peer address for logging and origin checks.
func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// closeDetails extracts the close code and reason from a read-loop error.
// Non-close errors (broken transport) map onto code 1006.
func closeDetails(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	return websocket.CloseAbnormalClosure, ""
}
