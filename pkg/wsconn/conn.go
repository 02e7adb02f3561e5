package wsconn

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is an open websocket. Writes are serialized; reads belong to the
// manager's read loop.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
	closed       atomic.Bool
	localClose   atomic.Bool
}

func newConn(ws *websocket.Conn, writeTimeout time.Duration) *Conn {
	return &Conn{ws: ws, writeTimeout: writeTimeout}
}

// IsOpen reports whether the socket is still usable for writes.
func (c *Conn) IsOpen() bool { return !c.closed.Load() }

func (c *Conn) WriteBinary(b []byte) error {
	return c.write(websocket.BinaryMessage, b)
}

func (c *Conn) WriteText(b []byte) error {
	return c.write(websocket.TextMessage, b)
}

// WriteJSON marshals v and sends it as a single text message.
func (c *Conn) WriteJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, b)
}

func (c *Conn) write(mt int, b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return ErrClosed
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(mt, b)
}

func (c *Conn) close(code int) error {
	c.localClose.Store(true)
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return nil
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""))
	c.closed.Store(true)
	c.mu.Unlock()
	return c.ws.Close()
}

// markClosed flags the conn closed and reports whether the close was local.
func (c *Conn) markClosed() bool {
	c.closed.Store(true)
	return c.localClose.Load()
}
