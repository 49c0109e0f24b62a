package realtime

import (
	"errors"
	"log/slog"
	"sync"

	"live-polling/internal/domain/poll"
	"live-polling/internal/session"
)

var ErrHubClosed = errors.New("hub closed")

// Hub fans events out to every connection, to teachers only or to a single
// connection. Frames are encoded once per codec per delivery.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	closed   bool
	registry *session.Registry
	log      *slog.Logger
}

func NewHub(registry *session.Registry, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		clients:  make(map[string]*Client),
		registry: registry,
		log:      log,
	}
}

func (h *Hub) register(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	h.clients[c.id] = c
	return nil
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if cur, ok := h.clients[c.id]; ok && cur == c {
		delete(h.clients, c.id)
	}
	h.mu.Unlock()

	c.finish()
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Broadcast(event string, data any) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	h.deliver(targets, event, data)
}

func (h *Hub) ToTeachers(event string, data any) {
	teachers := h.registry.ListByRole(session.RoleTeacher)

	h.mu.RLock()
	targets := make([]*Client, 0, len(teachers))
	for _, p := range teachers {
		if c, ok := h.clients[p.ConnID]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	h.deliver(targets, event, data)
}

// ToConnection reports whether connID was live.
func (h *Hub) ToConnection(connID, event string, data any) bool {
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	h.deliver([]*Client{c}, event, data)
	return true
}

// Disconnect closes connID once its queued frames are written.
func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	c, ok := h.clients[connID]
	if ok {
		delete(h.clients, connID)
	}
	h.mu.Unlock()

	if ok {
		c.finish()
	}
}

// PollCompleted is called by the lifecycle manager after a poll completes
// by timer or lazy read.
func (h *Hub) PollCompleted(p *poll.Poll) {
	h.Broadcast(EventPollComplete, PollPayload{Poll: p})
}

// Close flushes and closes every connection and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.finish()
	}
}

func (h *Hub) deliver(targets []*Client, event string, data any) {
	if len(targets) == 0 {
		return
	}

	encoded := make(map[string]frame, 2)
	for _, c := range targets {
		f, ok := encoded[c.codec.Name()]
		if !ok {
			b, err := c.codec.Encode(event, data)
			if err != nil {
				h.log.Error("could not encode event", "event", event, "codec", c.codec.Name(), "error", err)
				continue
			}
			f = frame{kind: c.codec.FrameType(), data: b}
			encoded[c.codec.Name()] = f
		}

		switch err := c.enqueue(f); {
		case errors.Is(err, errQueueFull):
			h.log.Warn("dropping slow client", "conn_id", c.id, "event", event)
			h.Disconnect(c.id)
		case err != nil:
			h.log.Debug("skip closed client", "conn_id", c.id, "event", event)
		}
	}
}
