// Package websocket pushes typed ledger-refresh events to connected browsers
// so invoice views update without polling.
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Message is a typed real-time event. Subscribers dispatch on Type rather
// than sniffing payloads.
type Message struct {
	Type   string         `json:"type"`
	Entity string         `json:"entity"`
	Action string         `json:"action"`
	ID     string         `json:"id,omitempty"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// NewMessage creates a Message with the Type field derived from entity and action.
func NewMessage(entity, action, id string, extra map[string]any) Message {
	return Message{
		Type:   fmt.Sprintf("%s_%s", entity, action),
		Entity: entity,
		Action: action,
		ID:     id,
		Extra:  extra,
	}
}

// Hub maintains the set of active WebSocket clients and broadcasts messages.
// Clients register under the user they authenticated as, so events can be
// delivered to exactly the users whose ledgers changed.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]string // client -> user ID
	logger  *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]string),
		logger:  logger,
	}
}

// Register adds a client to the hub under the given user.
func (h *Hub) Register(c *Client, userID string) {
	h.mu.Lock()
	h.clients[c] = userID
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast sends a message to all connected clients.
func (h *Hub) Broadcast(msg Message) {
	h.send(msg, func(string) bool { return true })
}

// BroadcastTo sends a message to the connections of the given users only.
func (h *Hub) BroadcastTo(msg Message, userIDs ...string) {
	targets := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		if id != "" {
			targets[id] = struct{}{}
		}
	}
	h.send(msg, func(userID string) bool {
		_, ok := targets[userID]
		return ok
	})
}

func (h *Hub) send(msg Message, accept func(userID string) bool) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c, userID := range h.clients {
		if !accept(userID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Client buffer full, drop the message instead of blocking
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
