package ws

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Path is the URL prefix served by Handler.
const Path = "/ws/events/"

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades /ws/events/{camera_id} requests and subscribes the
// connection to the hub. Use "*" as camera_id for every camera.
type Handler struct {
	hub    *Hub
	logger *zap.Logger
}

// NewHandler creates a websocket handler for hub.
func NewHandler(hub *Hub, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{hub: hub, logger: logger.With(zap.String("component", "ws"))}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cameraID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, Path), "/")
	if cameraID == "" {
		http.Error(w, "camera_id required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}

	h.logger.Info("client connected",
		zap.String("camera_id", cameraID),
		zap.String("remote_addr", r.RemoteAddr),
	)

	c := &client{cameraID: cameraID, send: make(chan []byte, sendBuffer)}
	h.hub.register(c)

	go h.writePump(c, conn)
	go h.readPump(c, conn)
}

// readPump only watches for disconnects and pongs; clients send nothing.
func (h *Handler) readPump(c *client, conn *websocket.Conn) {
	defer func() {
		h.hub.unregister(c)
		conn.Close()
	}()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("read error", zap.String("camera_id", c.cameraID), zap.Error(err))
			}
			return
		}
	}
}

func (h *Handler) writePump(c *client, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
