// Package ws fans out committed events to connected observers over
// WebSocket. A slow or dead client is dropped rather than allowed to
// stall event commits.
package ws

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flowpbx/flowpbx/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	writeTimeout  = 5 * time.Second
	clientSendBuf = 16
)

type envelope struct {
	Type    string       `json:"type"`
	Message string       `json:"message,omitempty"`
	Event   *store.Event `json:"event,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan envelope
}

// Hub tracks connected WebSocket observers and broadcasts committed
// events to all of them.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish broadcasts a committed event to every connected client. Publish
// never blocks on a slow client: it pushes onto a buffered per-client
// channel and drops the client if that channel is full.
func (h *Hub) Publish(e store.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	msg := envelope{Type: "sound_event", Event: &e}
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slog.Warn("ws: dropping slow client")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// ServeHTTP upgrades the connection and registers it as an observer, then
// writes a "connected" envelope before starting the write loop; events
// published in between are queued and delivered after it. The connection
// is closed once the write loop ends, including when the client is dropped.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws: upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan envelope, clientSendBuf)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	if err := h.writeOne(c, envelope{Type: "connected", Message: "connected to soundtri event stream"}); err != nil {
		h.remove(c)
		conn.Close()
		return
	}

	go h.readLoop(c)
	h.writeLoop(c)
	conn.Close()
}

func (h *Hub) readLoop(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	for msg := range c.send {
		if err := h.writeOne(c, msg); err != nil {
			return
		}
	}
}

func (h *Hub) writeOne(c *client, msg envelope) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(msg)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}
