package chathub

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"roomrelay/backend/internal/models"
	"roomrelay/backend/internal/presence"
)

// Broadcaster is the explicit push surface injected into the pipeline and
// the notification router. There is no ambient server handle; anything that
// needs to push events receives one of these.
type Broadcaster interface {
	// ToRoom delivers to every connection currently joined to the room.
	ToRoom(ctx context.Context, roomID string, ev models.Event)
	// ToUser delivers to every connection of one user (all tabs/devices).
	ToUser(ctx context.Context, userID string, ev models.Event)
	// ToConn delivers to a single connection.
	ToConn(ctx context.Context, connID string, ev models.Event)
	// ToAll delivers to every connected client.
	ToAll(ctx context.Context, ev models.Event)
}

// Hub is the registry of connections live on this process and the local
// Broadcaster implementation. Room and user membership is resolved through
// the presence tracker, so a broadcast reaches exactly the connections the
// shared store says are there.
type Hub struct {
	RegisterCh   chan Client
	UnregisterCh chan Client

	mu      sync.RWMutex
	clients map[string]Client

	tracker *presence.Tracker
	log     zerolog.Logger
}

// NewHub builds a Hub over the presence tracker.
func NewHub(tracker *presence.Tracker, log zerolog.Logger) *Hub {
	return &Hub{
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		clients:      make(map[string]Client),
		tracker:      tracker,
		log:          log,
	}
}

// Run processes register/unregister commands until the context is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case c := <-h.RegisterCh:
			h.add(c)
		case c := <-h.UnregisterCh:
			h.remove(c)
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) add(c Client) {
	h.mu.Lock()
	h.clients[c.ConnID()] = c
	h.mu.Unlock()
}

func (h *Hub) remove(c Client) {
	h.mu.Lock()
	if existing, ok := h.clients[c.ConnID()]; ok && existing == c {
		delete(h.clients, c.ConnID())
		c.Close()
	}
	h.mu.Unlock()
}

// ConnectedCount returns the number of connections on this process.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// deliver pushes an event to one local connection without blocking; a client
// whose buffer is full is considered dead and dropped. The drop happens
// inline, so repeated broadcasts to the same slow client are no-ops once it
// is out of the registry.
func (h *Hub) deliver(connID string, ev models.Event) {
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if !c.Send(ev) {
		h.log.Warn().Str("conn", connID).Msg("slow client, dropping connection")
		h.remove(c)
	}
}

func (h *Hub) ToRoom(ctx context.Context, roomID string, ev models.Event) {
	conns, err := h.tracker.ConnectionsInRoom(ctx, roomID)
	if err != nil {
		h.log.Error().Err(err).Str("room", roomID).Msg("resolve room connections")
		return
	}
	for _, connID := range conns {
		h.deliver(connID, ev)
	}
}

func (h *Hub) ToUser(ctx context.Context, userID string, ev models.Event) {
	conns, err := h.tracker.ConnectionsForUser(ctx, userID)
	if err != nil {
		h.log.Error().Err(err).Str("user", userID).Msg("resolve user connections")
		return
	}
	for _, connID := range conns {
		h.deliver(connID, ev)
	}
}

func (h *Hub) ToConn(_ context.Context, connID string, ev models.Event) {
	h.deliver(connID, ev)
}

func (h *Hub) ToAll(_ context.Context, ev models.Event) {
	h.mu.RLock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	for _, id := range ids {
		h.deliver(id, ev)
	}
}
