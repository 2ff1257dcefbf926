// Package transport serves sessions to remote presentation layers: JSON
// sign-up and login endpoints, a websocket per session, and metrics.
package transport

import (
	"log/slog"
	"sort"
	"sync"
)

// Hub tracks the live connection of each user. A user has at most one
// connection; a new one replaces and closes the old.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*client)}
}

// add registers c under its user id.
func (h *Hub) add(c *client) {
	h.mu.Lock()
	old, ok := h.clients[c.userID]
	h.clients[c.userID] = c
	h.mu.Unlock()

	if ok {
		old.close()
		slog.Info("ws replaced", "user", c.userID)
		return
	}
	slog.Info("ws registered", "user", c.userID)
}

// remove forgets c if it is still the user's connection.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.clients[c.userID]; ok && cur == c {
		delete(h.clients, c.userID)
		slog.Info("ws removed", "user", c.userID)
	}
}

// Send transmits a message to a connected user. It is a no-op when the
// user is not connected.
func (h *Hub) Send(userID string, msg Message) error {
	h.mu.RLock()
	c, ok := h.clients[userID]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	return c.write(msg)
}

// Connected returns the ids of connected users, sorted.
func (h *Hub) Connected() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
