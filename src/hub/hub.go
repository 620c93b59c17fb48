package hub

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/video2commons/relay/src/types"
)

// Hub manages all WebSocket client connections and room membership.
// Rooms are named multicast groups: one per task, one per user, plus the
// global alltasks room. Membership exists only while a client is connected.
type Hub struct {
	clients map[string]*Client
	rooms   map[string]map[string]bool // room -> set of clientIDs

	register   chan *Client
	unregister chan *Client
	incoming   chan inboundMsg

	handlers  map[string]types.MessageHandler
	onConnect []func(string)
	onDisconn []func(string)

	mu     sync.RWMutex
	logger zerolog.Logger
	done   chan struct{}
}

type inboundMsg struct {
	clientID string
	raw      []byte
}

// New creates a new Hub instance.
func New(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		incoming:   make(chan inboundMsg, 256),
		handlers:   make(map[string]types.MessageHandler),
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Run starts the hub event loop. Call in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case msg := <-h.incoming:
			h.handleMessage(msg)
		case <-h.done:
			return
		}
	}
}

// Stop halts the hub event loop.
func (h *Hub) Stop() {
	close(h.done)
}

// Register queues a client for registration.
func (h *Hub) Register(c *Client) {
	h.register <- c
}

// Unregister queues a client for removal.
func (h *Hub) Unregister(c *Client) {
	h.unregister <- c
}

// Disconnect removes a connected client by id and closes its transport.
func (h *Hub) Disconnect(clientID string) {
	h.mu.RLock()
	client, ok := h.clients[clientID]
	h.mu.RUnlock()
	if ok {
		h.Unregister(client)
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()

	h.logger.Info().Str("client_id", c.ID).Msg("client connected")

	for _, cb := range h.onConnect {
		cb(c.ID)
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)

	// Drop the client from every room it joined.
	for room, members := range h.rooms {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()

	c.Close()
	h.logger.Info().Str("client_id", c.ID).Msg("client disconnected")

	for _, cb := range h.onDisconn {
		cb(c.ID)
	}
}
