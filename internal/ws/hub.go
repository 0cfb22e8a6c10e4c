package ws

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"doorcam/internal/database"
)

// client is one websocket subscriber. Only its write pump touches the
// connection for writing, so send is the sole way to reach it.
type client struct {
	cameraID string
	send     chan []byte
}

// Hub fans recorded events out to websocket clients. It implements
// pipeline.EventHandler.
type Hub struct {
	// clients maps camera_id (or AllCameras) -> set of clients
	clients map[string]map[*client]bool
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]map[*client]bool),
		logger:  logger.With(zap.String("component", "ws_hub")),
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[c.cameraID] == nil {
		h.clients[c.cameraID] = make(map[*client]bool)
	}
	h.clients[c.cameraID][c] = true
	h.logger.Debug("client registered",
		zap.String("camera_id", c.cameraID),
		zap.Int("total", len(h.clients[c.cameraID])),
	)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.clients[c.cameraID]
	if !ok || !conns[c] {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.clients, c.cameraID)
	}
	close(c.send)
	h.logger.Debug("client unregistered", zap.String("camera_id", c.cameraID))
}

// HasClients reports whether any client would receive cameraID's events.
func (h *Hub) HasClients(cameraID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[cameraID]) > 0 || len(h.clients[AllCameras]) > 0
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, conns := range h.clients {
		count += len(conns)
	}
	return count
}

// OnEvent broadcasts ev to its camera's subscribers and to wildcard
// subscribers. A client too slow to keep up misses the message.
func (h *Hub) OnEvent(ev database.Event) {
	if !h.HasClients(ev.CameraID) {
		return
	}

	data, err := json.Marshal(NewEventMessage(ev))
	if err != nil {
		h.logger.Error("failed to marshal event", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, key := range []string{ev.CameraID, AllCameras} {
		for c := range h.clients[key] {
			select {
			case c.send <- data:
			default:
				h.logger.Warn("dropping event for slow client", zap.String("camera_id", key))
			}
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for key, conns := range h.clients {
		for c := range conns {
			close(c.send)
		}
		delete(h.clients, key)
	}
}
