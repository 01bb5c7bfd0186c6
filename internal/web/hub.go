package web

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/stuartshay/walk-tracker/internal/geolocation"
)

// Hub tracks connected hosts and fans messages out to them
type Hub struct {
	clients map[*Client]struct{}
	mu      sync.RWMutex
}

// Client is one connected host
type Client struct {
	ID   string
	Send chan []byte

	mu     sync.Mutex
	closed bool
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{clients: map[*Client]struct{}{}}
}

// Register adds a new client
func (h *Hub) Register() *Client {
	client := &Client{
		ID:   uuid.NewString(),
		Send: make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = struct{}{}
	return client
}

// Unregister removes the client and closes its send channel
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()

	client.mu.Lock()
	defer client.mu.Unlock()
	if !client.closed {
		client.closed = true
		close(client.Send)
	}
}

// Broadcast queues payload for every client. Slow clients miss messages
// rather than stall the sender.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		client.Offer(payload)
	}
}

// Count returns the number of connected clients
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Notify broadcasts a geolocation command. It satisfies geolocation.Notifier.
func (h *Hub) Notify(cmd geolocation.Command) {
	payload, err := encode(TypeCommand, cmd)
	if err != nil {
		log.Error().Err(err).Str("action", cmd.Action).Msg("Failed to encode command")
		return
	}
	if h.Count() == 0 {
		log.Debug().Str("action", cmd.Action).Msg("No hosts connected for geolocation command")
	}
	h.Broadcast(payload)
}

// Offer queues payload without blocking. It reports false when the client is
// full or already unregistered.
func (c *Client) Offer(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.Send <- payload:
		return true
	default:
		return false
	}
}
