package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"doorcam/internal/buffer"
	"doorcam/internal/clip"
	"doorcam/internal/database"
	"doorcam/internal/inference"
)

// Pipeline turns triggers into clips, snapshots and event records.
// Every trigger runs on its own goroutine; runs never block each other
// beyond the ring buffer's lock.
type Pipeline struct {
	buffers  Buffers
	encoder  ClipEncoder
	scanner  FaceScanner
	store    EventRecorder
	paths    Paths
	snapshot SnapshotWriter
	bus      *EventBus
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	triggers  atomic.Uint64
	rejected  atomic.Uint64
	inFlight  atomic.Int64
	recorded  atomic.Uint64
	dropped   atomic.Uint64
	clipFails atomic.Uint64
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Buffers  Buffers
	Encoder  ClipEncoder
	Scanner  FaceScanner
	Store    EventRecorder
	Paths    Paths
	Snapshot SnapshotWriter
	Bus      *EventBus
	Logger   *zap.Logger
	Now      func() time.Time
}

// New creates a pipeline.
func New(deps Deps, cfg Config) *Pipeline {
	def := DefaultConfig()
	if cfg.FPS <= 0 {
		cfg.FPS = def.FPS
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = def.StepTimeout
	}
	if deps.Snapshot == nil {
		deps.Snapshot = clip.WriteSnapshot
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Bus == nil {
		deps.Bus = NewEventBus(deps.Logger)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Pipeline{
		buffers:  deps.Buffers,
		encoder:  deps.Encoder,
		scanner:  deps.Scanner,
		store:    deps.Store,
		paths:    deps.Paths,
		snapshot: deps.Snapshot,
		bus:      deps.Bus,
		cfg:      cfg,
		logger:   deps.Logger.With(zap.String("component", "pipeline")),
		now:      deps.Now,
	}
}

// Bus returns the bus recorded events are published on.
func (p *Pipeline) Bus() *EventBus {
	return p.bus
}

// Config returns the event window settings.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Handle validates tr and dispatches its run. It returns immediately;
// the dwell and all processing happen on a separate goroutine.
func (p *Pipeline) Handle(tr Trigger) error {
	p.triggers.Add(1)

	tr.CameraID = strings.TrimSpace(tr.CameraID)
	tr.EventType = strings.TrimSpace(tr.EventType)
	if tr.CameraID == "" || tr.EventType == "" {
		p.rejected.Add(1)
		return fmt.Errorf("%w: camera_id=%q event_type=%q", ErrInvalidTrigger, tr.CameraID, tr.EventType)
	}

	ring, ok := p.buffers.Ring(tr.CameraID)
	if !ok {
		p.rejected.Add(1)
		return fmt.Errorf("%w: %s", ErrUnknownCamera, tr.CameraID)
	}

	if tr.Time.IsZero() {
		tr.Time = p.now()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.rejected.Add(1)
		return ErrClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	p.inFlight.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.inFlight.Add(-1)
		p.run(tr, ring)
	}()

	return nil
}

// Wait blocks until every dispatched run has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Shutdown stops accepting triggers and waits for in-flight runs until ctx expires.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %d event runs: %w", p.inFlight.Load(), ctx.Err())
	}
}

// Stats returns run counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Triggers:  p.triggers.Load(),
		Rejected:  p.rejected.Load(),
		InFlight:  p.inFlight.Load(),
		Recorded:  p.recorded.Load(),
		Dropped:   p.dropped.Load(),
		ClipFails: p.clipFails.Load(),
	}
}

// run executes one event end to end. Nothing it does may escape: a panic in
// any step is logged and the event abandoned.
func (p *Pipeline) run(tr Trigger, ring *buffer.Ring) {
	log := p.logger.With(
		zap.String("run_id", uuid.NewString()),
		zap.String("camera_id", tr.CameraID),
		zap.String("event_type", tr.EventType),
		zap.Time("trigger_time", tr.Time),
	)
	if tr.Source != "" {
		log = log.With(zap.String("source", tr.Source))
	}

	stage := "dwell"
	defer func() {
		if r := recover(); r != nil {
			p.dropped.Add(1)
			log.Error("event run panicked", zap.String("stage", stage), zap.Any("panic", r))
		}
	}()

	log.Info("event triggered", zap.Duration("dwell", p.cfg.Dwell))
	if p.cfg.Dwell > 0 {
		time.Sleep(p.cfg.Dwell)
	}

	stage = "snapshot"
	window := buffer.Window(ring.Snapshot(), tr.Time.Add(-p.cfg.PreEvent), tr.Time.Add(p.cfg.PostEvent))
	frames := buffer.Frames(window)

	stage = "clip"
	clipPath := p.encodeClip(tr, frames, log)

	stage = "face"
	faceDetected, snapshotPath := p.scanFaces(tr, window, log)

	stage = "store"
	ev := database.Event{
		Timestamp:    tr.Time,
		CameraID:     tr.CameraID,
		EventType:    tr.EventType,
		ClipPath:     clipPath,
		SnapshotPath: snapshotPath,
		FaceDetected: faceDetected,
		Duration:     p.cfg.Duration(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.StepTimeout)
	defer cancel()

	id, err := p.store.RecordEvent(ctx, ev)
	if err != nil {
		p.dropped.Add(1)
		log.Error("failed to record event, dropping it", zap.String("stage", stage), zap.Error(err))
		return
	}
	ev.ID = id
	p.recorded.Add(1)

	log.Info("event recorded",
		zap.Int64("event_id", id),
		zap.Int("frames", len(frames)),
		zap.Bool("clip", clipPath != nil),
		zap.Bool("face_detected", faceDetected),
	)

	stage = "publish"
	p.bus.Publish(ev)
}

// encodeClip returns the clip path, or nil when there was nothing to encode
// or encoding failed.
func (p *Pipeline) encodeClip(tr Trigger, frames []buffer.Frame, log *zap.Logger) *string {
	if len(frames) == 0 {
		log.Warn("no buffered footage in event window", zap.String("stage", "clip"))
		return nil
	}

	path, err := p.paths.ClipPath(tr.CameraID, tr.EventType, tr.Time)
	if err != nil {
		p.clipFails.Add(1)
		log.Error("failed to prepare clip path", zap.String("stage", "clip"), zap.Error(err))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.StepTimeout)
	defer cancel()

	if err := p.encoder.Assemble(ctx, frames, path, p.cfg.FPS); err != nil {
		p.clipFails.Add(1)
		log.Error("failed to encode clip", zap.String("stage", "clip"), zap.String("path", path), zap.Error(err))
		return nil
	}
	return &path
}

// scanFaces checks frames in capture order and writes a snapshot of the
// first one containing a face.
func (p *Pipeline) scanFaces(tr Trigger, window []buffer.Entry, log *zap.Logger) (bool, *string) {
	for _, e := range window {
		if !p.scanner.Detect(e.Frame, inference.FaceOnly).Face {
			continue
		}

		path, err := p.paths.SnapshotPath(tr.CameraID, tr.EventType, tr.Time)
		if err != nil {
			log.Error("failed to prepare snapshot path", zap.String("stage", "face"), zap.Error(err))
			return true, nil
		}

		label := fmt.Sprintf("%s %s", tr.CameraID, e.CapturedAt.Format("2006-01-02 15:04:05"))
		if err := p.snapshot(e.Frame, path, label); err != nil {
			log.Error("failed to write snapshot", zap.String("stage", "face"), zap.String("path", path), zap.Error(err))
			return true, nil
		}

		log.Debug("face found", zap.Time("frame_time", e.CapturedAt), zap.String("snapshot", path))
		return true, &path
	}
	return false, nil
}
