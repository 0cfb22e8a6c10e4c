package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"doorcam/internal/buffer"
	"doorcam/internal/inference"
)

type scriptedMotion struct {
	results []bool
	calls   int
	closed  bool
}

func (m *scriptedMotion) DetectMotion(buffer.Frame) bool {
	if m.calls >= len(m.results) {
		return false
	}
	r := m.results[m.calls]
	m.calls++
	return r
}

func (m *scriptedMotion) Name() string { return "scripted" }
func (m *scriptedMotion) Close() error { m.closed = true; return nil }

func TestMotionWatcher_RisingEdgeWithCooldown(t *testing.T) {
	ring := buffer.New(time.Minute)
	motion := &scriptedMotion{results: []bool{false, true, true, false, false, true}}
	det := inference.New(motion, inference.NewUnavailableFace("test"), zap.NewNop())
	sink := &recordingSink{}
	w := NewMotionWatcher("front", ring, det, sink, time.Second, 2*time.Second, zap.NewNop())

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	frame := buffer.Solid(4, 4, 0, 0, 0)

	var fired []bool
	for i := 0; i < 6; i++ {
		ring.Push(frame, base.Add(time.Duration(i)*time.Second))
		fired = append(fired, w.Step())
	}

	// Motion at t=1 fires; t=2 continues it; quiet from t=3 lasts 2s before
	// re-arming, so motion at t=5 fires again.
	assert.Equal(t, []bool{false, true, false, false, false, true}, fired)

	got := sink.all()
	require.Len(t, got, 2)
	assert.Equal(t, "front", got[0].CameraID)
	assert.Equal(t, LocalMotionEvent, got[0].EventType)
	assert.Equal(t, "local", got[0].Source)
	assert.True(t, got[0].Time.Equal(base.Add(time.Second)))
}

func TestMotionWatcher_SkipsAlreadySeenFrame(t *testing.T) {
	ring := buffer.New(time.Minute)
	motion := &scriptedMotion{results: []bool{true, true}}
	det := inference.New(motion, inference.NewUnavailableFace("test"), zap.NewNop())
	w := NewMotionWatcher("front", ring, det, &recordingSink{}, time.Second, time.Second, zap.NewNop())

	assert.False(t, w.Step())

	ring.Push(buffer.Solid(4, 4, 0, 0, 0), time.Now())
	assert.True(t, w.Step())
	assert.False(t, w.Step())
	assert.Equal(t, 1, motion.calls)
}

func TestMotionWatcher_RunClosesDetector(t *testing.T) {
	motion := &scriptedMotion{}
	det := inference.New(motion, inference.NewUnavailableFace("test"), zap.NewNop())
	w := NewMotionWatcher("front", buffer.New(time.Minute), det, &recordingSink{}, 5*time.Millisecond, time.Second, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done
	assert.True(t, motion.closed)
}
