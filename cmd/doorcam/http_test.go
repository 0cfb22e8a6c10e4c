package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"doorcam/internal/camera"
	"doorcam/internal/config"
	"doorcam/internal/inference"
	"doorcam/internal/ws"
)

func testApp(t *testing.T) *app {
	t.Helper()
	c := config.Default()
	c.MediaDir = t.TempDir()
	c.Detector.Backend = inference.BackendFallback
	c.Cameras = []camera.Camera{{ID: "front", Name: "Front door"}}

	a, err := newApp(c, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { a.shutdown(time.Second) })
	return a
}

func TestHealthz(t *testing.T) {
	a := testApp(t)
	mux := newMux(a.cameras, a.pipeline, ws.NewHub(nil), zap.NewNop())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, Version, resp.Version)
	require.Len(t, resp.Cameras, 1)
	assert.Equal(t, "front", resp.Cameras[0].ID)
	assert.Nil(t, resp.Cameras[0].Stream)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestNewApp_RejectsDuplicateCameras(t *testing.T) {
	c := config.Default()
	c.MediaDir = t.TempDir()
	c.Detector.Backend = inference.BackendFallback
	c.Cameras = []camera.Camera{{ID: "front"}, {ID: "front"}}

	_, err := newApp(c, zap.NewNop())
	assert.ErrorIs(t, err, camera.ErrDuplicateCamera)
}
