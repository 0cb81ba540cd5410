package capture

import (
	"log"
	"sync"
)

// outgoingMessage is the wire envelope for every server-to-client event.
type outgoingMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Hub owns the room membership of live websocket connections and fans events
// out to them. It knows nothing about sessions beyond the room id; the
// session registry is the source of truth for roles and lifecycle.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}
}

// NewHub 创建空的房间集线器。
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*client]struct{})}
}

func (h *Hub) join(roomID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[*client]struct{})
		h.rooms[roomID] = members
	}
	members[c] = struct{}{}
}

func (h *Hub) leaveAll(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for roomID, members := range h.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// Broadcast delivers an event to every member of a room.
func (h *Hub) Broadcast(roomID, event string, payload any) {
	h.send(roomID, "", event, payload)
}

// BroadcastExcept delivers an event to every member of a room except the
// connection that produced it.
func (h *Hub) BroadcastExcept(roomID, senderID, event string, payload any) {
	h.send(roomID, senderID, event, payload)
}

func (h *Hub) send(roomID, exceptID, event string, payload any) {
	msg := outgoingMessage{Event: event, Data: payload}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[roomID] {
		if exceptID != "" && c.id == exceptID {
			continue
		}
		select {
		case c.send <- msg:
		default:
			// Slow consumer; dropping beats blocking the whole room.
			log.Printf("[hub] dropped %s for slow connection %s room=%s", event, c.id, roomID)
		}
	}
}
