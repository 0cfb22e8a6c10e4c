package camera

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"doorcam/internal/buffer"
	"doorcam/internal/stream"
)

var (
	// ErrDuplicateCamera is returned when a camera id is registered twice.
	ErrDuplicateCamera = errors.New("camera already registered")
	// ErrNotFound is returned for an unknown camera id.
	ErrNotFound = errors.New("camera not found")
)

// Camera is the registration data for one camera.
type Camera struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name,omitempty" yaml:"name"`
	SourceURL string `json:"source_url,omitempty" yaml:"source_url"`
	// LocalMotion enables the built-in motion watcher for this camera.
	LocalMotion bool `json:"local_motion,omitempty" yaml:"local_motion"`
}

// HasStream reports whether the camera gets a stream reader.
func (c Camera) HasStream() bool {
	return strings.TrimSpace(c.SourceURL) != ""
}

// Options configures the sessions a Manager creates.
type Options struct {
	Horizon   time.Duration
	Transport stream.Transport
	Session   stream.Options
	Logger    *zap.Logger
}

type entry struct {
	camera  Camera
	ring    *buffer.Ring
	session *stream.Session
}

// Manager owns every registered camera with its buffer and stream session.
type Manager struct {
	opts   Options
	logger *zap.Logger

	mu      sync.RWMutex
	cameras map[string]*entry
	started bool
}

// NewManager creates an empty manager.
func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		opts:    opts,
		logger:  opts.Logger.With(zap.String("component", "camera_manager")),
		cameras: make(map[string]*entry),
	}
}

// Add registers a camera. Cameras without a source URL are kept for their
// metadata only and never get a stream session. If the manager is already
// started, the new session starts immediately.
func (m *Manager) Add(cam Camera) error {
	cam.ID = strings.TrimSpace(cam.ID)
	if cam.ID == "" {
		return fmt.Errorf("camera id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.cameras[cam.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCamera, cam.ID)
	}

	e := &entry{camera: cam, ring: buffer.New(m.opts.Horizon)}
	if cam.HasStream() && m.opts.Transport != nil {
		e.session = stream.NewSession(cam.ID, cam.SourceURL, e.ring, m.opts.Transport, m.opts.Session, m.opts.Logger)
		if m.started {
			e.session.Start()
		}
	}
	m.cameras[cam.ID] = e

	m.logger.Info("camera registered",
		zap.String("camera_id", cam.ID),
		zap.Bool("stream", e.session != nil),
	)
	return nil
}

// Remove stops the camera's session and forgets it.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	e, exists := m.cameras[id]
	if exists {
		delete(m.cameras, id)
	}
	m.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if e.session != nil {
		e.session.Stop()
	}

	m.logger.Info("camera removed", zap.String("camera_id", id))
	return nil
}

// Get returns the registration data for id.
func (m *Manager) Get(id string) (Camera, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.cameras[id]
	if !ok {
		return Camera{}, false
	}
	return e.camera, true
}

// List returns all cameras ordered by id.
func (m *Manager) List() []Camera {
	m.mu.RLock()
	out := make([]Camera, 0, len(m.cameras))
	for _, e := range m.cameras {
		out = append(out, e.camera)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Ring returns the buffer for a registered camera.
func (m *Manager) Ring(id string) (*buffer.Ring, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.cameras[id]
	if !ok {
		return nil, false
	}
	return e.ring, true
}

// Session returns the stream session for id, if the camera has one.
func (m *Manager) Session(id string) (*stream.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.cameras[id]
	if !ok || e.session == nil {
		return nil, false
	}
	return e.session, true
}

// StartAll starts every session and marks the manager as started.
func (m *Manager) StartAll() {
	m.mu.Lock()
	m.started = true
	sessions := m.sessionsLocked()
	m.mu.Unlock()

	for _, s := range sessions {
		s.Start()
	}
}

// StopAll stops every session concurrently and waits for them.
func (m *Manager) StopAll() {
	m.mu.Lock()
	m.started = false
	sessions := m.sessionsLocked()
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *stream.Session) {
			defer wg.Done()
			s.Stop()
		}(s)
	}
	wg.Wait()
}

// Status is the health view of one camera.
type Status struct {
	Camera
	Stream      *stream.Stats `json:"stream,omitempty"`
	Buffered    int           `json:"buffered_frames"`
	LatestFrame *time.Time    `json:"latest_frame,omitempty"`
}

// Status returns the health view of every camera ordered by id.
func (m *Manager) Status() []Status {
	m.mu.RLock()
	out := make([]Status, 0, len(m.cameras))
	for _, e := range m.cameras {
		st := Status{Camera: e.camera, Buffered: e.ring.Len()}
		if e.session != nil {
			stats := e.session.Stats()
			st.Stream = &stats
		}
		if latest, ok := e.ring.Latest(); ok {
			at := latest.CapturedAt
			st.LatestFrame = &at
		}
		out = append(out, st)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) sessionsLocked() []*stream.Session {
	var out []*stream.Session
	for _, e := range m.cameras {
		if e.session != nil {
			out = append(out, e.session)
		}
	}
	return out
}
