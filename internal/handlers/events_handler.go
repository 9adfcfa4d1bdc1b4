package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/respondeo/internal/interfaces"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Admin key is checked before upgrade
	},
}

// WSMessage is the envelope for every frame pushed to event stream
// subscribers.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// EventsHandler streams job lifecycle events to admin websocket
// clients. It subscribes to the event bus once at construction and
// fans frames out to every connected client.
type EventsHandler struct {
	auth             *Auth
	logger           arbor.ILogger
	clients          map[*websocket.Conn]bool
	clientMutex      map[*websocket.Conn]*sync.Mutex
	mu               sync.RWMutex
	serverInstanceID string // clients use this to detect server restarts
}

// NewEventsHandler creates the events handler and subscribes it to all
// job lifecycle events.
func NewEventsHandler(eventService interfaces.EventService, auth *Auth, logger arbor.ILogger) *EventsHandler {
	h := &EventsHandler{
		auth:             auth,
		logger:           logger,
		clients:          make(map[*websocket.Conn]bool),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		serverInstanceID: uuid.New().String(),
	}

	if eventService == nil {
		logger.Warn().Msg("Events handler created with nil event service - stream will be silent")
		return h
	}
	if err := eventService.SubscribeAll(h.handleEvent); err != nil {
		logger.Error().Err(err).Msg("Failed to subscribe events handler to event bus")
	}
	return h
}

// EventsWebSocketHandler upgrades the connection and streams events
// until the client disconnects. Admin only; auth runs before upgrade
// so rejected clients get a plain envelope, not a failed handshake.
// GET /api/v1/events/ws
func (h *EventsHandler) EventsWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if !h.auth.Admin(w, r) {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade websocket connection")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Msgf("Event stream client connected (total: %d)", clientCount)

	h.sendHello(conn)

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Msgf("Event stream client disconnected (remaining: %d)", remaining)
	}()

	// Read loop keeps the connection alive and detects disconnects.
	// Client frames are ignored.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("Event stream read error")
			}
			break
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (h *EventsHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleEvent bridges the event bus to websocket frames.
func (h *EventsHandler) handleEvent(ctx context.Context, event interfaces.Event) error {
	h.broadcast(WSMessage{
		Type:    string(event.Type),
		Payload: event.Payload,
	})
	return nil
}

// sendHello pushes the server instance id to a newly connected client.
func (h *EventsHandler) sendHello(conn *websocket.Conn) {
	msg := WSMessage{
		Type: "hello",
		Payload: map[string]interface{}{
			"server_instance_id": h.serverInstanceID,
		},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.RLock()
	mutex := h.clientMutex[conn]
	h.mu.RUnlock()
	if mutex == nil {
		return
	}

	mutex.Lock()
	defer mutex.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to send hello to event stream client")
	}
}

func (h *EventsHandler) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal event frame")
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
		mutexes = append(mutexes, h.clientMutex[conn])
	}
	h.mu.RUnlock()

	for i, conn := range conns {
		mutex := mutexes[i]
		mutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Msg("Failed to send event to client")
		}
	}
}
