// Package qxgwserver bridges QX TCP clients to a single backend transport
// (typically a serial-connected gimbal/camera device): a Hub fans out frames
// received from the backend to every connected client, and a Server accepts
// TCP connections and funnels client frames to the backend via a caller-
// supplied Send func. Frames are broadcast as opaque byte slices rather
// than a typed frame struct.
package qxgwserver

import (
	"sync"

	"github.com/freefly-qx/qx-gateway/internal/qxlogging"
	"github.com/freefly-qx/qx-gateway/internal/qxmetrics"
)

// BackpressurePolicy selects what Hub.Broadcast does when a client's
// outbound queue is full.
type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

// Client is a registered hub member: Out carries frames queued for delivery
// to this client, Closed signals the writer goroutine to exit.
type Client struct {
	Out       chan []byte
	Closed    chan struct{}
	closeOnce sync.Once
}

// Close signals the client is closed. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.Closed) })
}

// Hub tracks connected clients and broadcasts backend frames to all of them.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	OutBufSize int
	Policy     BackpressurePolicy
}

// NewHub creates a Hub with default settings.
func NewHub() *Hub { return &Hub{clients: make(map[*Client]struct{})} }

// Add registers a client with the hub.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	prev := len(h.clients)
	h.clients[c] = struct{}{}
	cur := len(h.clients)
	h.mu.Unlock()
	if prev == 0 && cur == 1 {
		qxlogging.L().Info("clients_first_connected")
	}
}

// Remove unregisters a client, safe to call multiple times.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	_, existed := h.clients[c]
	if existed {
		delete(h.clients, c)
	}
	cur := len(h.clients)
	h.mu.Unlock()
	select {
	case <-c.Closed:
	default:
		c.Close()
	}
	qxmetrics.SetHubClients(cur)
	if existed && cur == 0 {
		qxlogging.L().Info("clients_last_disconnected")
	}
}

// Broadcast delivers frame to every connected client, honoring Policy when a
// client's buffer is full.
func (h *Hub) Broadcast(frame []byte) {
	clients := h.Snapshot()
	qxmetrics.SetBroadcastFanout(len(clients))
	qxmetrics.SetHubClients(len(clients))
	if len(clients) > 0 {
		max, sum := 0, 0
		for _, c := range clients {
			l := len(c.Out)
			if l > max {
				max = l
			}
			sum += l
		}
		qxmetrics.SetQueueDepth(max, sum/len(clients))
	}
	for _, c := range clients {
		select {
		case c.Out <- frame:
		default:
			if h.Policy == PolicyKick {
				qxmetrics.IncHubKick()
				c.Close()
			} else {
				qxmetrics.IncHubDrop()
			}
		}
	}
}

// Snapshot returns a slice copy of currently connected clients.
func (h *Hub) Snapshot() []*Client {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	return clients
}

// Count returns the number of active clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	return n
}
