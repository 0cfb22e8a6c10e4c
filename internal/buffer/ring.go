package buffer

import (
	"sync"
	"time"
)

// BytesPerPixel is the channel depth of a Frame (packed BGR, 8 bits each).
const BytesPerPixel = 3

// Frame is a decoded image in packed BGR order, row-major.
// Pix is shared by every reader once the frame is pushed and must not be written to.
type Frame struct {
	Width  int
	Height int
	Pix    []byte
}

// Valid reports whether Pix holds exactly Width*Height pixels.
func (f Frame) Valid() bool {
	return f.Width > 0 && f.Height > 0 && len(f.Pix) == f.Width*f.Height*BytesPerPixel
}

// Entry is a frame together with its capture time.
type Entry struct {
	Frame      Frame
	CapturedAt time.Time
}

// Ring is a time-windowed sequence of frames for one camera.
// It is bounded by age, not by count: entries older than the horizon are
// dropped on every push and on explicit eviction.
type Ring struct {
	horizon time.Duration

	mu      sync.Mutex
	entries []Entry
}

// New creates an empty ring retaining frames for horizon.
func New(horizon time.Duration) *Ring {
	return &Ring{horizon: horizon}
}

// Horizon returns the retention window.
func (r *Ring) Horizon() time.Duration {
	return r.horizon
}

// Push appends a frame and evicts everything older than the horizon
// relative to capturedAt.
func (r *Ring) Push(frame Frame, capturedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, Entry{Frame: frame, CapturedAt: capturedAt})
	r.evictLocked(capturedAt)
}

// Evict drops entries with now - CapturedAt > horizon.
func (r *Ring) Evict(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictLocked(now)
}

func (r *Ring) evictLocked(now time.Time) {
	cut := 0
	for cut < len(r.entries) && now.Sub(r.entries[cut].CapturedAt) > r.horizon {
		cut++
	}
	if cut == 0 {
		return
	}

	// Compact into the same backing array so steady-state pushes don't
	// keep allocating; clear the tail so evicted pixels can be collected.
	n := copy(r.entries, r.entries[cut:])
	for i := n; i < len(r.entries); i++ {
		r.entries[i] = Entry{}
	}
	r.entries = r.entries[:n]
}

// Snapshot returns an independent copy of all retained entries, oldest first.
// An empty ring yields an empty, non-nil slice.
func (r *Ring) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of retained entries.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Latest returns the most recently pushed entry.
func (r *Ring) Latest() (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) == 0 {
		return Entry{}, false
	}
	return r.entries[len(r.entries)-1], true
}

// Window returns the entries captured within [from, to], preserving order.
func Window(entries []Entry, from, to time.Time) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.CapturedAt.Before(from) || e.CapturedAt.After(to) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Frames strips timestamps from entries.
func Frames(entries []Entry) []Frame {
	out := make([]Frame, len(entries))
	for i, e := range entries {
		out[i] = e.Frame
	}
	return out
}
