package trigger

import (
	"context"
	"time"

	"go.uber.org/zap"

	"doorcam/internal/buffer"
	"doorcam/internal/inference"
	"doorcam/internal/pipeline"
)

// LocalMotionEvent is the event type raised by MotionWatcher.
const LocalMotionEvent = "motion"

// MotionWatcher samples a camera's newest buffered frame and raises a
// trigger when motion starts. After motion stops it stays quiet for the
// cooldown period, so one person walking past yields one event.
type MotionWatcher struct {
	cameraID string
	ring     *buffer.Ring
	detector *inference.Detector
	sink     Sink
	interval time.Duration
	cooldown time.Duration
	logger   *zap.Logger

	lastFrame  time.Time
	lastMotion time.Time
	active     bool
}

// NewMotionWatcher creates a watcher. detector must not be shared with other cameras.
func NewMotionWatcher(cameraID string, ring *buffer.Ring, detector *inference.Detector, sink Sink, interval, cooldown time.Duration, logger *zap.Logger) *MotionWatcher {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MotionWatcher{
		cameraID: cameraID,
		ring:     ring,
		detector: detector,
		sink:     sink,
		interval: interval,
		cooldown: cooldown,
		logger:   logger.With(zap.String("component", "motion_watcher"), zap.String("camera_id", cameraID)),
	}
}

// Run samples until ctx is cancelled, then closes the detector.
func (w *MotionWatcher) Run(ctx context.Context) {
	defer w.detector.Close()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Step()
		}
	}
}

// Step checks the newest frame once. It reports whether a trigger was raised.
func (w *MotionWatcher) Step() bool {
	latest, ok := w.ring.Latest()
	if !ok || !latest.CapturedAt.After(w.lastFrame) {
		return false
	}
	w.lastFrame = latest.CapturedAt

	now := latest.CapturedAt
	if !w.detector.Detect(latest.Frame, inference.MotionOnly).Motion {
		if w.active && now.Sub(w.lastMotion) >= w.cooldown {
			w.active = false
		}
		return false
	}

	w.lastMotion = now
	if w.active {
		return false
	}
	w.active = true

	err := w.sink.Handle(pipeline.Trigger{
		CameraID:  w.cameraID,
		EventType: LocalMotionEvent,
		Time:      now,
		Source:    "local",
	})
	if err != nil {
		w.logger.Warn("motion trigger rejected", zap.Error(err))
		return false
	}

	w.logger.Info("local motion detected")
	return true
}
