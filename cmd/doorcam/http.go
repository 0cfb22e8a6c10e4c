package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"doorcam/internal/camera"
	"doorcam/internal/pipeline"
	"doorcam/internal/ws"
)

type healthResponse struct {
	Status   string          `json:"status"`
	Version  string          `json:"version"`
	Time     time.Time       `json:"time"`
	Cameras  []camera.Status `json:"cameras"`
	Pipeline pipeline.Stats  `json:"pipeline"`
}

// newMux serves /healthz and the websocket event feed.
func newMux(cameras *camera.Manager, p *pipeline.Pipeline, hub *ws.Hub, log *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		resp := healthResponse{
			Status:   "healthy",
			Version:  Version,
			Time:     time.Now().UTC(),
			Cameras:  cameras.Status(),
			Pipeline: p.Stats(),
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Warn("failed to write health response", zap.Error(err))
		}
	})

	mux.Handle(ws.Path, ws.NewHandler(hub, log))
	return mux
}

// handleHTTPServer starts an HTTP server on addr and shuts it down when ctx
// is cancelled. Listen errors are sent to errc.
func handleHTTPServer(ctx context.Context, addr string, handler http.Handler, wg *sync.WaitGroup, errc chan<- error, log *zap.Logger) {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 60 * time.Second}

	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			log.Info("HTTP server listening", zap.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errc <- err
			}
		}()

		<-ctx.Done()
		log.Info("shutting down HTTP server", zap.String("addr", addr))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Warn("failed to shutdown HTTP server", zap.Error(err))
		}
	}()
}
