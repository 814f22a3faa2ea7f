package events

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/yourusername/camlink/internal/coordinator"
	"go.uber.org/zap"
)

// Hub pushes device snapshot updates to connected WebSocket clients.
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	clients map[*Client]bool
	mutex   sync.RWMutex
}

// Client is one connected WebSocket subscriber.
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	logger *zap.Logger
}

// Message is the wire envelope sent to clients.
type Message struct {
	Type    string          `json:"type"` // "snapshot"
	Payload json.RawMessage `json:"payload"`
}

// snapshotPayload is the body of a snapshot message.
type snapshotPayload struct {
	Devices coordinator.Snapshot `json:"devices"`
}

// NewHub creates a new event hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[*Client]bool),
	}
}

// HandleWebSocket upgrades the connection and registers the client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	clientID := uuid.NewString()
	client := &Client{
		id:     clientID,
		conn:   conn,
		send:   make(chan []byte, 16),
		hub:    h,
		logger: h.logger.With(zap.String("client_id", clientID)),
	}

	h.registerClient(client)

	go client.writePump()
	go client.readPump()

	client.logger.Info("Event client connected",
		zap.String("remote_addr", r.RemoteAddr),
	)
}

// BroadcastSnapshot sends the snapshot to every connected client. Intended to
// be registered as a coordinator subscriber.
func (h *Hub) BroadcastSnapshot(snapshot coordinator.Snapshot) {
	payload, err := json.Marshal(snapshotPayload{Devices: snapshot})
	if err != nil {
		h.logger.Error("Failed to marshal snapshot payload", zap.Error(err))
		return
	}

	data, err := json.Marshal(Message{Type: "snapshot", Payload: payload})
	if err != nil {
		h.logger.Error("Failed to marshal snapshot message", zap.Error(err))
		return
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			client.logger.Debug("Send channel full, dropping snapshot update")
		}
	}
}

// registerClient adds a client to the hub.
func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.clients[client] = true

	h.logger.Info("Client registered",
		zap.String("client_id", client.id),
		zap.Int("total_clients", len(h.clients)),
	)
}

// unregisterClient removes a client from the hub.
func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, exists := h.clients[client]; exists {
		delete(h.clients, client)
		close(client.send)

		h.logger.Info("Client unregistered",
			zap.String("client_id", client.id),
			zap.Int("total_clients", len(h.clients)),
		)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Close terminates all client connections.
func (h *Hub) Close() {
	h.logger.Info("Closing event hub")

	h.mutex.Lock()
	defer h.mutex.Unlock()

	for client := range h.clients {
		client.conn.Close()
		delete(h.clients, client)
	}
}

// readPump drains incoming messages until the connection closes. Clients
// don't send anything meaningful; the read loop exists to detect closure.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}
	}
}

// writePump writes queued messages to the connection.
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			c.logger.Error("Failed to write message", zap.Error(err))
			break
		}
	}
}
