package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"medisos/pkg/logger"
)

// Message is an outbound frame. Every push is sent as its own text frame.
type Message struct {
	Type      string      `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// Envelope is an inbound frame. Data is decoded by the listener according
// to Type.
type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Listener receives connection lifecycle events and inbound frames.
// OnConnect completes before the first OnMessage for that client.
type Listener interface {
	OnConnect(client *Client)
	OnMessage(client *Client, envelope *Envelope)
	OnDisconnect(client *Client)
}

type Hub struct {
	clients  map[*Client]struct{}
	listener Listener
	mutex    sync.RWMutex
	logger   *logger.Logger
}

func NewHub(listener Listener, log *logger.Logger) *Hub {
	return &Hub{
		clients:  make(map[*Client]struct{}),
		listener: listener,
		logger:   log,
	}
}

func (h *Hub) Register(client *Client) {
	h.mutex.Lock()
	h.clients[client] = struct{}{}
	h.mutex.Unlock()

	h.logger.LogConnectionEvent(client.UserID.Hex(), client.Role, "connected")

	client.Push("welcome", map[string]interface{}{
		"client_id": client.ID(),
		"user_id":   client.UserID.Hex(),
		"role":      client.Role,
		"message":   "Connected successfully",
	})

	if h.listener != nil {
		h.listener.OnConnect(client)
	}
}

func (h *Hub) Unregister(client *Client) {
	h.mutex.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
	}
	h.mutex.Unlock()

	if !ok {
		return
	}

	client.close()
	h.logger.LogConnectionEvent(client.UserID.Hex(), client.Role, "disconnected")

	if h.listener != nil {
		h.listener.OnDisconnect(client)
	}
}

func (h *Hub) dispatch(client *Client, envelope *Envelope) {
	if h.listener != nil {
		h.listener.OnMessage(client, envelope)
	}
}

func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// CloseAll closes every connection, used on shutdown.
func (h *Hub) CloseAll() {
	h.mutex.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.RUnlock()

	for _, client := range clients {
		h.Unregister(client)
	}
}

func getCurrentTimestamp() int64 {
	return time.Now().Unix()
}
