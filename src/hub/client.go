package hub

import (
	"encoding/json"
	"sync"

	"github.com/video2commons/relay/src/types"
)

// Client wraps a WebSocket connection and manages message flow.
// A client starts unauthenticated; SetUser marks the auth handshake done.
type Client struct {
	ID     string
	conn   types.Conn
	hub    *Hub
	Send   chan types.Message
	user   string
	rooms  map[string]bool
	mu     sync.RWMutex
	done   chan struct{}
	closed bool
}

// NewClient creates a new WebSocket client wrapper.
func NewClient(id string, conn types.Conn, h *Hub) *Client {
	return &Client{
		ID:    id,
		conn:  conn,
		hub:   h,
		Send:  make(chan types.Message, 256),
		rooms: make(map[string]bool),
		done:  make(chan struct{}),
	}
}

// SetUser records the identity resolved during authentication.
func (c *Client) SetUser(user string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = user
}

// User returns the authenticated identity, or "" before authentication.
func (c *Client) User() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

// Rooms returns the rooms this client currently belongs to.
func (c *Client) Rooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rooms := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	return rooms
}

func (c *Client) addRoom(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[room] = true
}

func (c *Client) removeRoom(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, room)
}

// ReadPump reads messages from the WebSocket and routes them to the hub.
// The payload stays raw; the registered handler owns decoding.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	for {
		var raw json.RawMessage
		if err := c.conn.ReadJSON(&raw); err != nil {
			return
		}
		c.hub.incoming <- inboundMsg{clientID: c.ID, raw: raw}
	}
}

// WritePump writes messages from the send channel to the WebSocket.
func (c *Client) WritePump() {
	defer c.conn.Close()

	for {
		select {
		case msg := <-c.Send:
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close signals the client to stop its pumps. Send is never closed:
// broadcasters on other goroutines may still hold a reference to this
// client, and a send on a closed channel panics. Stray messages queued
// after Close are simply never written.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}
