// Package notify pushes one-way notifications to connected UI clients over
// websocket.
package notify

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/replydesk/replydesk/internal/logging"
	"github.com/replydesk/replydesk/internal/metrics"
)

// Notification types sent to the UI.
const (
	TypeBroadcast     = "broadcast"
	TypeHasPaused     = "has_paused"
	TypeRefreshConfig = "refresh-config"
	TypeCheckHealth   = "check-health"
)

// Message is the envelope every UI client receives.
type Message struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Hub fans notifications out to every UI client.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	upgrader websocket.Upgrader
}

// NewHub creates a hub. checkOrigin filters upgrades; nil accepts everything.
func NewHub(checkOrigin func(origin string) bool) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return checkOrigin == nil || checkOrigin(r.Header.Get("Origin"))
			},
		},
	}
}

// ServeHTTP upgrades a UI connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnf("[notify] upgrade failed: %v", err)
		return
	}
	c := newClient(conn, h, uuid.NewString())

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.SetUIClients(n)
	logging.Debugf("[notify] UI client %s connected (%d total)", c.ID, n)

	go c.writePump()
	go c.readPump()
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.Close()
	if ok {
		metrics.SetUIClients(n)
		logging.Debugf("[notify] UI client %s disconnected", c.ID)
	}
}

// ClientCount returns the number of connected UI clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends {type, data, timestamp} to every client without waiting for
// delivery. Clients that cannot keep up are dropped.
func (h *Hub) Broadcast(msgType string, data any) {
	payload, err := json.Marshal(&Message{Type: msgType, Data: data, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		logging.Errorf("[notify] encode %s: %v", msgType, err)
		return
	}

	h.mu.RLock()
	var slow []*Client
	for c := range h.clients {
		if err := c.sendRaw(payload); err != nil {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		logging.Warnf("[notify] dropping UI client %s", c.ID)
		h.remove(c)
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.Close()
	}
	metrics.SetUIClients(0)
}
