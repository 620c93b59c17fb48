package hub

import (
	"encoding/json"

	"github.com/video2commons/relay/src/types"
)

// handleMessage routes an inbound client message to the handler registered
// for its event type. Handlers run off the hub loop: the auth handler does
// session-store and backend I/O and must not stall fan-out.
func (h *Hub) handleMessage(msg inboundMsg) {
	var envelope struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(msg.raw, &envelope); err != nil {
		h.logger.Debug().Str("client_id", msg.clientID).Msg("unparseable client message")
		return
	}

	h.mu.RLock()
	handler, ok := h.handlers[envelope.Event]
	h.mu.RUnlock()

	if !ok {
		h.logger.Debug().Str("event", envelope.Event).Msg("no handler")
		return
	}
	go handler(msg.clientID, msg.raw)
}

// Join adds a client to a room. Joining twice is a no-op; joining as an
// unknown (already disconnected) client fails.
func (h *Hub) Join(room, clientID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[clientID]
	if !ok {
		return false
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]bool)
	}
	h.rooms[room][clientID] = true
	client.addRoom(room)
	return true
}

// Leave removes a client from a room.
func (h *Hub) Leave(room, clientID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[room]
	if !ok {
		return false
	}
	delete(members, clientID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	if c, ok := h.clients[clientID]; ok {
		c.removeRoom(room)
	}
	return true
}

// Members returns the ids of clients currently in a room. Disconnected
// clients are never included: removal from all rooms happens before the
// client map entry is dropped, under the same lock.
func (h *Hub) Members(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members, ok := h.rooms[room]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids
}

// ForEachMember calls fn for every current member of a room.
// The member set is snapshotted first so fn may itself join or leave rooms.
func (h *Hub) ForEachMember(room string, fn func(clientID string)) {
	for _, id := range h.Members(room) {
		fn(id)
	}
}

// ClearRoom force-removes every member from a room. Clearing an empty or
// unknown room is a no-op.
func (h *Hub) ClearRoom(room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[room]
	if !ok {
		return
	}
	for id := range members {
		if c, ok := h.clients[id]; ok {
			c.removeRoom(room)
		}
	}
	delete(h.rooms, room)
}

// Broadcast sends a message to all members of a room. Broadcasting to an
// empty room is harmless.
func (h *Hub) Broadcast(room string, msg types.Message) {
	// Copy member ids to avoid holding the lock during sends.
	ids := h.Members(room)

	for _, id := range ids {
		h.mu.RLock()
		client, exists := h.clients[id]
		h.mu.RUnlock()
		if !exists {
			continue
		}
		select {
		case client.Send <- msg:
		default:
			h.logger.Warn().Str("client_id", id).Msg("send buffer full, dropping")
		}
	}
}

// SendToClient sends a message directly to a specific client.
func (h *Hub) SendToClient(clientID string, msg types.Message) bool {
	h.mu.RLock()
	client, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case client.Send <- msg:
		return true
	default:
		return false
	}
}
