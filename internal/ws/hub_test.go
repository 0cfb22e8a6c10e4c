package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"doorcam/internal/database"
)

func dial(t *testing.T, srv *httptest.Server, cameraID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + Path + cameraID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) EventMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg EventMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHub_BroadcastsToCameraAndWildcard(t *testing.T) {
	hub := NewHub(zap.NewNop())
	srv := httptest.NewServer(NewHandler(hub, zap.NewNop()))
	defer srv.Close()

	front := dial(t, srv, "front")
	all := dial(t, srv, AllCameras)
	back := dial(t, srv, "back")

	require.Eventually(t, func() bool { return hub.ClientCount() == 3 }, 2*time.Second, 10*time.Millisecond)

	clip := "/media/front/20240301_120000_ding.mp4"
	hub.OnEvent(database.Event{
		ID:        7,
		CameraID:  "front",
		EventType: "ding",
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		ClipPath:  &clip,
		Duration:  15,
	})

	for _, conn := range []*websocket.Conn{front, all} {
		msg := readEvent(t, conn)
		assert.Equal(t, "event", msg.Type)
		assert.Equal(t, int64(7), msg.ID)
		assert.Equal(t, "front", msg.CameraID)
		require.NotNil(t, msg.ClipPath)
		assert.Equal(t, clip, *msg.ClipPath)
		assert.Nil(t, msg.SnapshotPath)
	}

	back.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := back.ReadMessage()
	assert.Error(t, err)
}

func TestHub_UnregistersOnDisconnect(t *testing.T) {
	hub := NewHub(zap.NewNop())
	srv := httptest.NewServer(NewHandler(hub, zap.NewNop()))
	defer srv.Close()

	conn := dial(t, srv, "front")
	require.Eventually(t, func() bool { return hub.HasClients("front") }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, hub.HasClients("front"))
}

func TestHandler_RequiresCameraID(t *testing.T) {
	h := NewHandler(NewHub(nil), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, Path, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHub_OnEventWithoutClients(t *testing.T) {
	hub := NewHub(nil)
	hub.OnEvent(database.Event{CameraID: "front"})
	hub.Close()
	assert.Zero(t, hub.ClientCount())
}
