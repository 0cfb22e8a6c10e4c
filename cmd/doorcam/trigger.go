package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"doorcam/internal/pipeline"
)

var warmup time.Duration

var triggerCmd = &cobra.Command{
	Use:   "trigger CAMERA_ID [EVENT_TYPE]",
	Short: "Record one event from a short live capture",
	Long: "Starts the camera's stream reader, buffers for the warm-up period, fires a trigger and " +
		"waits for the event to be recorded. The stored record is printed as JSON.",
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eventType := "manual"
		if len(args) == 2 {
			eventType = args[1]
		}
		return recordOnce(cmd.Context(), args[0], eventType)
	},
}

func init() {
	triggerCmd.Flags().DurationVar(&warmup, "warmup", 0, "buffering time before the trigger (default: event.pre)")
	rootCmd.AddCommand(triggerCmd)
}

func recordOnce(ctx context.Context, cameraID, eventType string) error {
	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}

	session, ok := a.cameras.Session(cameraID)
	if !ok {
		a.shutdown(time.Second)
		return fmt.Errorf("camera %q is not configured with a stream", cameraID)
	}

	events, unsubscribe := a.pipeline.Bus().SubscribeChannel(1)
	defer unsubscribe()

	session.Start()

	if warmup <= 0 {
		warmup = cfg.Event.Pre
	}
	log.Info("buffering before trigger", zap.String("camera_id", cameraID), zap.Duration("warmup", warmup))

	select {
	case <-ctx.Done():
		a.shutdown(time.Second)
		return ctx.Err()
	case <-time.After(warmup):
	}

	if err := a.pipeline.Handle(pipeline.Trigger{CameraID: cameraID, EventType: eventType, Source: "cli"}); err != nil {
		a.shutdown(time.Second)
		return err
	}

	// Dwell, encode and store write.
	a.shutdown(cfg.Event.Dwell + 2*cfg.Pipeline().StepTimeout)

	// The bus is closed by now, so this never blocks.
	ev, ok := <-events
	if !ok {
		return fmt.Errorf("event for %s was not recorded, see log", cameraID)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(ev)
}
