// Package ws is the duplex WebSocket transport: it accepts connections,
// routes client frames to the application and pushes server messages back,
// including to connections owned by other gateway instances.
package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrGone is returned when a connection no longer exists.
var ErrGone = errors.New("connection gone")

type conn struct {
	id   string
	ws   *websocket.Conn
	mu   sync.Mutex
	wait time.Duration
}

func (c *conn) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wait > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.wait))
	}
	return c.ws.WriteMessage(messageType, data)
}

// Hub tracks the connections held by this process.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*conn
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string]*conn)}
}

func (h *Hub) add(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.id] = c
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, id)
}

func (h *Hub) get(id string) (*conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[id]
	return c, ok
}

// Has reports whether the connection is held locally.
func (h *Hub) Has(id string) bool {
	_, ok := h.get(id)
	return ok
}

// Send writes a text frame to a local connection.
func (h *Hub) Send(id string, data []byte) error {
	c, ok := h.get(id)
	if !ok {
		return ErrGone
	}
	if err := c.write(websocket.TextMessage, data); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return ErrGone
		}
		return err
	}
	return nil
}

// Close closes a local connection.
func (h *Hub) Close(id string) error {
	c, ok := h.get(id)
	if !ok {
		return ErrGone
	}
	_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.ws.Close()
}

// Len returns the number of local connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
