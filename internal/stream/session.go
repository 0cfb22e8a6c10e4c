package stream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"doorcam/internal/buffer"
)

// State is the lifecycle state of a Session.
type State int32

const (
	Closed State = iota
	Opening
	Streaming
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Opening:
		return "opening"
	case Streaming:
		return "streaming"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// DefaultCooldown is the pause between a failure and the next open attempt.
const DefaultCooldown = 5 * time.Second

// Options tunes a Session.
type Options struct {
	Cooldown time.Duration
	// Now stamps captured frames. Defaults to time.Now.
	Now func() time.Time
}

// Stats is a point-in-time view of a session's counters.
type Stats struct {
	CameraID     string    `json:"camera_id"`
	State        string    `json:"state"`
	FramesRead   uint64    `json:"frames_read"`
	OpenFailures uint64    `json:"open_failures"`
	ReadFailures uint64    `json:"read_failures"`
	LastFrameAt  time.Time `json:"last_frame_at,omitempty"`
}

// Session reads one camera's stream into its ring buffer, reopening the
// transport after every failure until stopped.
type Session struct {
	cameraID  string
	url       string
	ring      *buffer.Ring
	transport Transport
	opts      Options
	logger    *zap.Logger

	state atomic.Int32

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	src    FrameSource

	framesRead   atomic.Uint64
	openFailures atomic.Uint64
	readFailures atomic.Uint64
	lastFrameAt  atomic.Int64
}

// NewSession creates a stopped session for one camera.
func NewSession(cameraID, url string, ring *buffer.Ring, transport Transport, opts Options, logger *zap.Logger) *Session {
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Session{
		cameraID:  cameraID,
		url:       url,
		ring:      ring,
		transport: transport,
		opts:      opts,
		logger: logger.With(
			zap.String("component", "stream"),
			zap.String("camera_id", cameraID),
		),
	}
}

// CameraID returns the camera this session reads.
func (s *Session) CameraID() string { return s.cameraID }

// Ring returns the buffer the session fills.
func (s *Session) Ring() *buffer.Ring { return s.ring }

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Start spawns the read loop. It is a no-op if the loop is already running.
func (s *Session) Start() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.setState(Opening)

	go s.run(ctx, s.done)

	s.logger.Info("stream reader started", zap.String("url", redact(s.url)))
}

// Stop terminates the read loop and releases the transport handle.
// It returns once the loop has exited and is safe to call repeatedly.
func (s *Session) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	cancel, done, src := s.cancel, s.done, s.src
	s.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	if src != nil {
		_ = src.Close()
	}
	<-done

	s.mu.Lock()
	s.cancel = nil
	s.mu.Unlock()

	s.setState(Closed)
	s.logger.Info("stream reader stopped")
}

// Stats returns the session counters.
func (s *Session) Stats() Stats {
	st := Stats{
		CameraID:     s.cameraID,
		State:        s.State().String(),
		FramesRead:   s.framesRead.Load(),
		OpenFailures: s.openFailures.Load(),
		ReadFailures: s.readFailures.Load(),
	}
	if ns := s.lastFrameAt.Load(); ns != 0 {
		st.LastFrameAt = time.Unix(0, ns)
	}
	return st
}

func (s *Session) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.setState(Closed)

	for ctx.Err() == nil {
		opened, err := s.cycle(ctx)
		if ctx.Err() != nil {
			return
		}

		if opened {
			s.readFailures.Add(1)
			s.logger.Warn("stream read failed, reconnecting",
				zap.Error(err),
				zap.Duration("cooldown", s.opts.Cooldown),
			)
		} else {
			s.openFailures.Add(1)
			s.logger.Warn("stream open failed, retrying",
				zap.Error(err),
				zap.Duration("cooldown", s.opts.Cooldown),
			)
		}

		if !s.cooldown(ctx) {
			return
		}
	}
}

// cycle opens the transport once and streams until the first failure.
// A panic inside the transport is converted into an error so the loop keeps going.
func (s *Session) cycle(ctx context.Context) (opened bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in stream reader: %v", r)
		}
		s.setSource(nil)
		s.setState(Closed)
	}()

	s.setState(Opening)
	src, err := s.transport.Open(ctx, s.url)
	if err != nil {
		return false, err
	}
	defer src.Close()

	s.setSource(src)
	s.setState(Streaming)
	s.logger.Info("stream connected")

	for {
		if err := ctx.Err(); err != nil {
			return true, err
		}

		frame, err := src.ReadFrame()
		if err != nil {
			return true, err
		}
		if !frame.Valid() {
			return true, fmt.Errorf("%w: %d bytes for %dx%d", ErrShortRead, len(frame.Pix), frame.Width, frame.Height)
		}

		now := s.opts.Now()
		s.ring.Push(frame, now)
		s.framesRead.Add(1)
		s.lastFrameAt.Store(now.UnixNano())
	}
}

func (s *Session) setSource(src FrameSource) {
	s.mu.Lock()
	s.src = src
	s.mu.Unlock()
}

func (s *Session) cooldown(ctx context.Context) bool {
	timer := time.NewTimer(s.opts.Cooldown)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
