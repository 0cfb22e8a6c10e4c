package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"doorcam/internal/media"
	"doorcam/internal/telegram"
	"doorcam/internal/trigger"
	"doorcam/internal/ws"
)

var drainTimeout time.Duration

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the recorder daemon",
	Long:  "Starts a stream reader per configured camera, listens for triggers on MQTT and Redis, and serves health and websocket endpoints.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(cmd.Context())
	},
}

func init() {
	runCmd.Flags().DurationVar(&drainTimeout, "drain", time.Minute, "how long to wait for in-flight events on shutdown")
	rootCmd.AddCommand(runCmd)
}

func runDaemon(ctx context.Context) error {
	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}

	hub := ws.NewHub(log)
	unsubscribe := a.pipeline.Bus().Subscribe(hub)

	var notifier *telegram.Notifier
	if cfg.Telegram.BotToken != "" {
		notifier, err = telegram.NewNotifier(telegram.Config{
			BotToken: cfg.Telegram.BotToken,
			ChatID:   cfg.Telegram.ChatID,
			Cooldown: cfg.Telegram.Cooldown,
		}, log)
		if err != nil {
			a.shutdown(drainTimeout)
			return fmt.Errorf("telegram notifier: %w", err)
		}
		a.pipeline.Bus().Subscribe(notifier)
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	errc := make(chan error, 4)

	a.cameras.StartAll()

	var mqttSource *trigger.MQTTSource
	if cfg.MQTT.Broker != "" {
		mqttSource = trigger.NewMQTTSource(trigger.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Prefix:   cfg.MQTT.Prefix,
			QoS:      cfg.MQTT.QoS,
			Events:   cfg.MQTT.Events,
			Topics:   cfg.MQTT.Topics,
		}, cameraIDs(a), a.pipeline, log)
		if err := mqttSource.Start(); err != nil {
			log.Error("mqtt trigger source disabled", zap.Error(err))
			mqttSource = nil
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		source := trigger.NewRedisSource(redisClient, trigger.RedisConfig{
			Stream: cfg.Redis.Stream,
			Group:  cfg.Redis.Group,
		}, a.pipeline, log)

		wg.Add(1)
		go func() {
			defer wg.Done()
			source.Run(ctx)
		}()
	}

	for _, cam := range a.cameras.List() {
		if !cam.LocalMotion || !cam.HasStream() {
			continue
		}
		ring, _ := a.cameras.Ring(cam.ID)
		w := trigger.NewMotionWatcher(cam.ID, ring, a.factory.New(), a.pipeline,
			cfg.Detector.MotionInterval, cfg.Detector.MotionCooldown, log)

		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	if age := cfg.RetentionAge(); age > 0 {
		retention := media.NewRetention(cfg.MediaDir, age, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			retention.Run(ctx, cfg.Retention.Interval)
		}()
	}

	if cfg.HTTP.Addr != "" {
		handleHTTPServer(ctx, cfg.HTTP.Addr, newMux(a.cameras, a.pipeline, hub, log), &wg, errc, log)
	}

	log.Info("doorcam started",
		zap.String("version", Version),
		zap.Int("cameras", len(cfg.Cameras)),
		zap.String("media_dir", cfg.MediaDir),
	)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case runErr = <-errc:
		log.Error("component failed", zap.Error(runErr))
	}

	// Trigger sources go first so nothing new is dispatched while draining.
	if mqttSource != nil {
		mqttSource.Stop()
	}
	cancel()
	wg.Wait()

	a.shutdown(drainTimeout)
	unsubscribe()
	hub.Close()
	if notifier != nil {
		notifier.Close()
	}

	if redisClient != nil {
		_ = redisClient.Close()
	}

	log.Info("doorcam stopped", zap.Any("stats", a.pipeline.Stats()))
	return runErr
}

func cameraIDs(a *app) []string {
	cams := a.cameras.List()
	ids := make([]string, 0, len(cams))
	for _, c := range cams {
		ids = append(ids, c.ID)
	}
	return ids
}
