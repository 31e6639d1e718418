package api

import (
	"net/http"
	"sync"
	"time"

	"specan/pkg/instrument"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const writeWait = 5 * time.Second

type client struct {
	conn *websocket.Conn
	send chan instrument.Event
}

// writePump forwards events from the hub to the websocket connection.
func (c *client) writePump() {
	defer c.conn.Close()

	for e := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(e); err != nil {
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// Hub streams instrument events to websocket clients. It implements
// instrument.Notifier; slow clients miss events instead of blocking the
// driver.
type Hub struct {
	upgrader websocket.Upgrader
	logger   log.FieldLogger

	mu      sync.RWMutex
	clients map[*client]bool
}

func NewHub(logger log.FieldLogger) *Hub {
	h := Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger:  logger.WithField("component", "events"),
		clients: make(map[*client]bool),
	}
	return &h
}

func (h *Hub) Notify(e instrument.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- e:
		default:
			h.logger.Debugf("Dropping %s event for slow client %s", e.Type, c.conn.RemoteAddr())
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnf("Upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan instrument.Event, 256)}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	h.logger.Debugf("Client %s connected", conn.RemoteAddr())

	go c.writePump()
	defer h.remove(c)

	// Clients only listen; reading detects when they go away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.logger.Debugf("Client %s disconnected", conn.RemoteAddr())
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
