package capture

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	model "github.com/shadowsculpt/backend/internal/model/session"
	capturesvc "github.com/shadowsculpt/backend/internal/service/capture"
	"github.com/shadowsculpt/backend/internal/service/reconstruct"
	"github.com/shadowsculpt/backend/internal/service/session"
	"github.com/shadowsculpt/backend/internal/service/storage"
)

const (
	readDeadline = 60 * time.Second
	pingInterval = 54 * time.Second
	sendBuffer   = 32
)

// Handler is the session coordinator: it dispatches inbound room events to
// the capture pipeline and never blocks the read loop on a reconstruction.
type Handler struct {
	registry     *session.Registry
	ingestor     *capturesvc.Ingestor
	orchestrator *reconstruct.Orchestrator
	janitor      *storage.Janitor
	hub          *Hub
	upgrader     websocket.Upgrader
}

// New 创建会话协调器。
func New(registry *session.Registry, ingestor *capturesvc.Ingestor, orchestrator *reconstruct.Orchestrator, janitor *storage.Janitor, hub *Hub) *Handler {
	return &Handler{
		registry:     registry,
		ingestor:     ingestor,
		orchestrator: orchestrator,
		janitor:      janitor,
		hub:          hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由。
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type joinPayload struct {
	SessionID string `json:"sessionId"`
	Type      string `json:"type"`
}

type framePayload struct {
	RoomID string `json:"roomId"`
	Image  string `json:"image"`
}

type processPayload struct {
	SessionID string `json:"sessionId"`
}

// client is one live websocket connection. Writes go through the send
// channel so the hub never writes to the conn concurrently with the pumps.
type client struct {
	id    string
	conn  *websocket.Conn
	send  chan outgoingMessage
	rooms map[string]struct{}
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	c := &client{
		id:    uuid.NewString(),
		conn:  conn,
		send:  make(chan outgoingMessage, sendBuffer),
		rooms: make(map[string]struct{}),
	}
	log.Printf("[websocket] connection %s opened", c.id)

	done := make(chan struct{})
	defer close(done)
	go c.writePump(done)

	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[websocket] read error on %s: %v", c.id, err)
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		h.dispatch(c, &msg)
	}

	// Disconnect removes only this connection's membership. Session data and
	// in-flight jobs stay: other members or a reconnect may need them.
	h.hub.leaveAll(c)
	for roomID := range c.rooms {
		h.registry.Leave(roomID, c.id)
	}
	log.Printf("[websocket] connection %s closed", c.id)
}

func (h *Handler) dispatch(c *client, msg *inboundMessage) {
	switch msg.Event {
	case "join_session":
		h.handleJoin(c, msg.Data)
	case "send_frame":
		h.handleFrame(c, msg.Data)
	case "process_3d":
		h.handleProcess(c, msg.Data)
	default:
		c.sendError("unsupported event: " + msg.Event)
	}
}

func (h *Handler) handleJoin(c *client, raw json.RawMessage) {
	var payload joinPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.SessionID == "" {
		c.sendError("invalid join payload")
		return
	}

	role := model.RoleViewer
	if payload.Type == string(model.RoleSensor) {
		role = model.RoleSensor
	}

	h.registry.Touch(payload.SessionID)
	h.registry.Join(payload.SessionID, role, c.id)
	h.hub.join(payload.SessionID, c)
	c.rooms[payload.SessionID] = struct{}{}
	log.Printf("[websocket] %s joined session %s as %s", c.id, payload.SessionID, role)

	if role == model.RoleSensor {
		h.hub.Broadcast(payload.SessionID, "session_status", map[string]any{"status": "connected"})
	}

	// Opportunistic reclamation of stale sessions.
	go h.janitor.Sweep()
}

func (h *Handler) handleFrame(c *client, raw json.RawMessage) {
	var payload framePayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.RoomID == "" || payload.Image == "" {
		c.sendError("invalid frame payload")
		return
	}

	h.registry.Touch(payload.RoomID)
	count, err := h.ingestor.Ingest(payload.RoomID, c.id, payload.Image)
	if err != nil {
		log.Printf("[websocket] frame rejected session=%s conn=%s: %v", payload.RoomID, c.id, err)
		c.sendError(frameErrorText(err))
		return
	}
	log.Printf("[websocket] frame %d stored session=%s", count, payload.RoomID)
}

func (h *Handler) handleProcess(c *client, raw json.RawMessage) {
	var payload processPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.SessionID == "" {
		c.sendError("invalid process payload")
		return
	}

	h.registry.Touch(payload.SessionID)
	if err := h.orchestrator.Begin(payload.SessionID); err != nil {
		switch {
		case errors.Is(err, session.ErrJobInFlight):
			// Idempotent reject: tell the requester, never start a duplicate.
			c.sendEvent("processing_status", map[string]any{"step": "Reconstruction already in progress for this session."})
		case errors.Is(err, capturesvc.ErrInsufficientFrames):
			c.sendError("no frames captured yet, nothing to reconstruct")
		default:
			log.Printf("[websocket] process request failed session=%s: %v", payload.SessionID, err)
			c.sendError("could not start reconstruction")
		}
	}
}

func frameErrorText(err error) string {
	switch {
	case errors.Is(err, capturesvc.ErrInvalidFrame):
		return "frame is not a decodable image"
	case errors.Is(err, session.ErrUnknownSession):
		return "session expired, rejoin to continue capturing"
	default:
		return "failed to store frame"
	}
}

func (c *client) sendEvent(event string, payload any) {
	select {
	case c.send <- outgoingMessage{Event: event, Data: payload}:
	default:
		log.Printf("[websocket] dropped %s for slow connection %s", event, c.id)
	}
}

func (c *client) sendError(message string) {
	c.sendEvent("error", map[string]string{"message": message})
}

// writePump serializes all writes to the connection and keeps it alive with
// periodic pings.
func (c *client) writePump(done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case msg := <-c.send:
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Printf("[websocket] write failed on %s: %v", c.id, err)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
