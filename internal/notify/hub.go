package notify

import (
	"context"
	"fmt"
	"sync"
)

// WSConn is the part of a websocket connection the hub writes to.
type WSConn interface {
	WriteJSON(v any) error
}

// ServerMessage is the envelope written to watchers.
type ServerMessage struct {
	Type  string `json:"type"`
	Event *Event `json:"event,omitempty"`
}

type hubClient struct {
	mu   sync.Mutex
	conn WSConn
}

func (c *hubClient) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// Hub broadcasts events to connected websocket watchers.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*hubClient
	nextID  int
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*hubClient)}
}

// Register adds a connection and returns its client id.
func (h *Hub) Register(conn WSConn) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := fmt.Sprintf("client-%d", h.nextID)
	h.clients[id] = &hubClient{conn: conn}
	return id
}

// Unregister removes a client. Unknown ids are ignored.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, id)
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Write sends v to one client. Writes to a client are serialized.
func (h *Hub) Write(id string, v any) error {
	h.mu.RLock()
	c := h.clients[id]
	h.mu.RUnlock()
	if c == nil {
		return fmt.Errorf("unknown client %q", id)
	}
	return c.write(v)
}

// Send broadcasts ev. Clients that fail a write are dropped.
func (h *Hub) Send(_ context.Context, ev Event) (string, error) {
	h.mu.RLock()
	ids := make([]string, 0, len(h.clients))
	clients := make([]*hubClient, 0, len(h.clients))
	for id, c := range h.clients {
		ids = append(ids, id)
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	msg := ServerMessage{Type: "event", Event: &ev}
	for i, c := range clients {
		if err := c.write(msg); err != nil {
			notifyLog.Debug("hub_client_dropped", "client_id", ids[i], "error", err)
			h.Unregister(ids[i])
		}
	}
	return "", nil
}
