package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"doorcam/internal/camera"
	"doorcam/internal/clip"
	"doorcam/internal/config"
	"doorcam/internal/database"
	"doorcam/internal/inference"
	"doorcam/internal/media"
	"doorcam/internal/pipeline"
	"doorcam/internal/stream"
)

// app holds the components shared by the run and trigger commands.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	layout   *media.Layout
	store    *database.Store
	factory  *inference.Factory
	cameras  *camera.Manager
	pipeline *pipeline.Pipeline
}

func newApp(cfg *config.Config, log *zap.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.MediaDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media dir: %w", err)
	}

	layout := media.NewLayout(cfg.MediaDir)
	store := database.New(layout.DatabasePath())

	factory, err := inference.NewFactory(cfg.Inference(), log)
	if err != nil {
		return nil, fmt.Errorf("failed to set up detectors: %w", err)
	}

	transport := stream.NewFFmpegTransport(cfg.Capture.FFmpeg, cfg.Capture.Width, cfg.Capture.Height, cfg.Capture.FPS, log)
	cameras := camera.NewManager(camera.Options{
		Horizon:   cfg.Capture.Horizon,
		Transport: transport,
		Session:   stream.Options{Cooldown: cfg.Capture.Cooldown},
		Logger:    log,
	})
	for _, cam := range cfg.Cameras {
		if err := cameras.Add(cam); err != nil {
			factory.Close()
			return nil, err
		}
	}

	p := pipeline.New(pipeline.Deps{
		Buffers: cameras,
		Encoder: clip.NewAssembler(cfg.Capture.FFmpeg, log),
		Scanner: factory.New(),
		Store:   store,
		Paths:   layout,
		Logger:  log,
	}, cfg.Pipeline())

	return &app{
		cfg:      cfg,
		log:      log,
		layout:   layout,
		store:    store,
		factory:  factory,
		cameras:  cameras,
		pipeline: p,
	}, nil
}

// shutdown drains pipeline runs, then stops readers and releases detectors.
// Readers keep running while runs drain so their post-event frames arrive.
func (a *app) shutdown(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.pipeline.Shutdown(ctx); err != nil {
		a.log.Warn("pipeline runs still in flight at exit", zap.Error(err))
	}

	a.cameras.StopAll()

	a.pipeline.Bus().Close()
	if err := a.factory.Close(); err != nil {
		a.log.Warn("failed to close detectors", zap.Error(err))
	}
}
