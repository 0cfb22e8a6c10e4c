package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"doorcam/internal/buffer"
	"doorcam/internal/database"
	"doorcam/internal/inference"
	"doorcam/internal/media"
)

type ringMap map[string]*buffer.Ring

func (m ringMap) Ring(id string) (*buffer.Ring, bool) {
	r, ok := m[id]
	return r, ok
}

type fakeEncoder struct {
	mu     sync.Mutex
	calls  int
	frames int
	err    error
}

func (e *fakeEncoder) Assemble(ctx context.Context, frames []buffer.Frame, path string, fps int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.frames = len(frames)
	if e.err != nil {
		return e.err
	}
	if len(frames) == 0 {
		return nil
	}
	return os.WriteFile(path, []byte("mp4"), 0644)
}

// markerScanner reports a face on frames whose first byte equals marker.
type markerScanner struct {
	mu     sync.Mutex
	marker byte
	seen   []byte
}

func (s *markerScanner) Detect(f buffer.Frame, flags inference.Flags) inference.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, f.Pix[0])
	return inference.Result{Face: flags.Face && f.Pix[0] == s.marker}
}

type failingStore struct{}

func (failingStore) RecordEvent(context.Context, database.Event) (int64, error) {
	return 0, errors.New("disk full")
}

type panicScanner struct{}

func (panicScanner) Detect(buffer.Frame, inference.Flags) inference.Result { panic("model crashed") }

type fixture struct {
	pipeline *Pipeline
	ring     *buffer.Ring
	encoder  *fakeEncoder
	scanner  *markerScanner
	store    *database.Store
	t0       time.Time
}

// newFixture fills cam1's ring with one frame per second over [t0-7, t0+12],
// each frame's first byte being its offset from t0 plus 100.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	root := t.TempDir()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ring := buffer.New(time.Minute)
	for off := -7; off <= 12; off++ {
		f := buffer.Solid(4, 4, 0, 0, 0)
		f.Pix[0] = byte(100 + off)
		ring.Push(f, t0.Add(time.Duration(off)*time.Second))
	}

	f := &fixture{
		ring:    ring,
		encoder: &fakeEncoder{},
		scanner: &markerScanner{marker: 0},
		store:   database.New(filepath.Join(root, media.DatabaseName)),
		t0:      t0,
	}
	layout := &media.Layout{Root: root, Location: time.UTC}

	cfg := DefaultConfig()
	cfg.Dwell = 10 * time.Millisecond

	f.pipeline = New(Deps{
		Buffers: ringMap{"cam1": ring},
		Encoder: f.encoder,
		Scanner: f.scanner,
		Store:   f.store,
		Paths:   layout,
		Logger:  zap.NewNop(),
	}, cfg)
	return f
}

func (f *fixture) onlyEvent(t *testing.T) *database.Event {
	t.Helper()
	ev, err := f.store.Get(context.Background(), 1)
	require.NoError(t, err)
	_, err = f.store.Get(context.Background(), 2)
	require.ErrorIs(t, err, database.ErrNotFound)
	return ev
}

func TestPipeline_EndToEndNoFace(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.pipeline.Handle(Trigger{CameraID: "cam1", EventType: "motion", Time: f.t0}))
	f.pipeline.Wait()

	ev := f.onlyEvent(t)
	assert.Equal(t, "cam1", ev.CameraID)
	assert.Equal(t, "motion", ev.EventType)
	require.NotNil(t, ev.ClipPath)
	assert.FileExists(t, *ev.ClipPath)
	assert.Equal(t, 15, ev.Duration)
	assert.False(t, ev.FaceDetected)
	assert.Nil(t, ev.SnapshotPath)
	assert.True(t, f.t0.Equal(ev.Timestamp))

	// Window [t0-5, t0+10] holds 16 of the 20 buffered frames.
	assert.Equal(t, 16, f.encoder.frames)
	assert.Equal(t, uint64(1), f.pipeline.Stats().Recorded)
}

func TestPipeline_FirstFaceHitWritesSnapshot(t *testing.T) {
	f := newFixture(t)
	f.scanner.marker = 102 // frame at t0+2

	require.NoError(t, f.pipeline.Handle(Trigger{CameraID: "cam1", EventType: "ding", Time: f.t0}))
	f.pipeline.Wait()

	ev := f.onlyEvent(t)
	assert.True(t, ev.FaceDetected)
	require.NotNil(t, ev.SnapshotPath)
	assert.FileExists(t, *ev.SnapshotPath)
	assert.Contains(t, *ev.SnapshotPath, "_ding_face.jpg")

	// Scanning stops at the first hit: t0-5 .. t0+2 is 8 frames, in order.
	require.Len(t, f.scanner.seen, 8)
	assert.Equal(t, byte(95), f.scanner.seen[0])
	assert.Equal(t, byte(102), f.scanner.seen[7])
}

func TestPipeline_EmptyBufferStillRecords(t *testing.T) {
	f := newFixture(t)
	f.pipeline.buffers = ringMap{"cam1": buffer.New(time.Minute)}

	require.NoError(t, f.pipeline.Handle(Trigger{CameraID: "cam1", EventType: "motion", Time: f.t0}))
	f.pipeline.Wait()

	ev := f.onlyEvent(t)
	assert.Nil(t, ev.ClipPath)
	assert.Nil(t, ev.SnapshotPath)
	assert.Zero(t, f.encoder.calls)
}

func TestPipeline_EncodeFailureYieldsNullClip(t *testing.T) {
	f := newFixture(t)
	f.encoder.err = errors.New("ffmpeg not available")

	require.NoError(t, f.pipeline.Handle(Trigger{CameraID: "cam1", EventType: "motion", Time: f.t0}))
	f.pipeline.Wait()

	ev := f.onlyEvent(t)
	assert.Nil(t, ev.ClipPath)
	assert.Equal(t, uint64(1), f.pipeline.Stats().ClipFails)
}

func TestPipeline_StoreFailureIsContained(t *testing.T) {
	f := newFixture(t)
	f.pipeline.store = failingStore{}

	events, unsubscribe := f.pipeline.Bus().SubscribeChannel(1)
	defer unsubscribe()

	require.NoError(t, f.pipeline.Handle(Trigger{CameraID: "cam1", EventType: "motion", Time: f.t0}))
	f.pipeline.Wait()

	assert.Equal(t, uint64(1), f.pipeline.Stats().Dropped)
	assert.Empty(t, events)
}

func TestPipeline_PanicIsContained(t *testing.T) {
	f := newFixture(t)
	f.pipeline.scanner = panicScanner{}

	require.NoError(t, f.pipeline.Handle(Trigger{CameraID: "cam1", EventType: "motion", Time: f.t0}))
	f.pipeline.Wait()

	assert.Equal(t, uint64(1), f.pipeline.Stats().Dropped)
}

func TestPipeline_RejectsInvalidTriggers(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.pipeline.Handle(Trigger{EventType: "motion"}), ErrInvalidTrigger)
	assert.ErrorIs(t, f.pipeline.Handle(Trigger{CameraID: "cam1"}), ErrInvalidTrigger)
	assert.ErrorIs(t, f.pipeline.Handle(Trigger{CameraID: "garage", EventType: "motion"}), ErrUnknownCamera)

	f.pipeline.Wait()
	assert.Equal(t, uint64(3), f.pipeline.Stats().Rejected)
	assert.Zero(t, f.encoder.calls)
}

func TestPipeline_DuplicateTriggersProduceDuplicateRecords(t *testing.T) {
	f := newFixture(t)

	events, unsubscribe := f.pipeline.Bus().SubscribeChannel(4)
	defer unsubscribe()

	tr := Trigger{CameraID: "cam1", EventType: "motion", Time: f.t0}
	require.NoError(t, f.pipeline.Handle(tr))
	require.NoError(t, f.pipeline.Handle(tr))
	f.pipeline.Wait()

	assert.Len(t, events, 2)
	assert.Equal(t, uint64(2), f.pipeline.Stats().Recorded)
}

func TestPipeline_HandleDoesNotBlockOnDwell(t *testing.T) {
	f := newFixture(t)
	f.pipeline.cfg.Dwell = 200 * time.Millisecond

	start := time.Now()
	require.NoError(t, f.pipeline.Handle(Trigger{CameraID: "cam1", EventType: "motion", Time: f.t0}))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, int64(1), f.pipeline.Stats().InFlight)

	require.NoError(t, f.pipeline.Shutdown(context.Background()))
	assert.ErrorIs(t, f.pipeline.Handle(Trigger{CameraID: "cam1", EventType: "motion"}), ErrClosed)
}

func TestPipeline_ShutdownDeadline(t *testing.T) {
	f := newFixture(t)
	f.pipeline.cfg.Dwell = time.Second

	require.NoError(t, f.pipeline.Handle(Trigger{CameraID: "cam1", EventType: "motion", Time: f.t0}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.pipeline.Shutdown(ctx), context.DeadlineExceeded)

	f.pipeline.Wait()
}

func TestConfig_Duration(t *testing.T) {
	assert.Equal(t, 15, DefaultConfig().Duration())
}
