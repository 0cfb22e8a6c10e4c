package pipeline

import (
	"context"
	"errors"
	"time"

	"doorcam/internal/buffer"
	"doorcam/internal/database"
	"doorcam/internal/inference"
)

var (
	// ErrInvalidTrigger is returned for a trigger missing its camera or event type.
	ErrInvalidTrigger = errors.New("invalid trigger")
	// ErrUnknownCamera is returned for a trigger naming an unregistered camera.
	ErrUnknownCamera = errors.New("unknown camera")
	// ErrClosed is returned by Handle after Shutdown.
	ErrClosed = errors.New("pipeline is shut down")
)

// Trigger is an external request to record an event.
type Trigger struct {
	CameraID  string
	EventType string
	// Time is when the event happened. Zero means now.
	Time time.Time
	// Payload is the raw message that produced the trigger, kept for logging.
	Payload []byte
	// Source names the adapter that produced the trigger.
	Source string
}

// Config holds event window settings.
type Config struct {
	PreEvent  time.Duration
	PostEvent time.Duration
	// Dwell is how long a run waits after the trigger before reading the buffer.
	Dwell time.Duration
	// FPS is the clip frame rate.
	FPS int
	// StepTimeout bounds clip encoding and the store write.
	StepTimeout time.Duration
}

// DefaultConfig returns the standard event window.
func DefaultConfig() Config {
	return Config{
		PreEvent:    5 * time.Second,
		PostEvent:   10 * time.Second,
		Dwell:       10 * time.Second,
		FPS:         20,
		StepTimeout: 2 * time.Minute,
	}
}

// Duration is the recorded event length in whole seconds.
func (c Config) Duration() int {
	return int((c.PreEvent + c.PostEvent).Round(time.Second) / time.Second)
}

// Buffers looks up a camera's frame buffer.
type Buffers interface {
	Ring(cameraID string) (*buffer.Ring, bool)
}

// ClipEncoder turns frames into a video file.
type ClipEncoder interface {
	Assemble(ctx context.Context, frames []buffer.Frame, outputPath string, fps int) error
}

// FaceScanner runs the inference stage on one frame.
type FaceScanner interface {
	Detect(frame buffer.Frame, flags inference.Flags) inference.Result
}

// EventRecorder persists an event.
type EventRecorder interface {
	RecordEvent(ctx context.Context, ev database.Event) (int64, error)
}

// Paths names the artifacts of an event.
type Paths interface {
	ClipPath(cameraID, eventType string, t time.Time) (string, error)
	SnapshotPath(cameraID, eventType string, t time.Time) (string, error)
}

// SnapshotWriter writes a frame as an image file.
type SnapshotWriter func(frame buffer.Frame, path, label string) error

// Stats counts pipeline runs.
type Stats struct {
	Triggers  uint64 `json:"triggers"`
	Rejected  uint64 `json:"rejected"`
	InFlight  int64  `json:"in_flight"`
	Recorded  uint64 `json:"recorded"`
	Dropped   uint64 `json:"dropped"`
	ClipFails uint64 `json:"clip_failures"`
}
