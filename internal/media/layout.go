package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DatabaseName is the event store file kept at the media root.
const DatabaseName = "media.db"

// Layout maps events to paths under a media root:
//
//	<root>/<camera>/<YYYY-MM-DD>/<YYYYMMDD_HHMMSS>_<event>.mp4
//	<root>/<camera>/<YYYY-MM-DD>/<YYYYMMDD_HHMMSS>_<event>_face.jpg
type Layout struct {
	Root string
	// Location is the zone used for directory and file names. Defaults to local time.
	Location *time.Location
}

// NewLayout creates a layout rooted at root.
func NewLayout(root string) *Layout {
	return &Layout{Root: root, Location: time.Local}
}

// DatabasePath returns the event store location.
func (l *Layout) DatabasePath() string {
	return filepath.Join(l.Root, DatabaseName)
}

// Dir returns the per-camera, per-day directory, creating it if needed.
func (l *Layout) Dir(cameraID string, t time.Time) (string, error) {
	dir := filepath.Join(l.Root, Sanitize(cameraID), l.local(t).Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create media directory: %w", err)
	}
	return dir, nil
}

// ClipPath returns the clip file for an event.
func (l *Layout) ClipPath(cameraID, eventType string, t time.Time) (string, error) {
	return l.file(cameraID, t, Sanitize(eventType)+".mp4")
}

// SnapshotPath returns the face snapshot file for an event.
func (l *Layout) SnapshotPath(cameraID, eventType string, t time.Time) (string, error) {
	return l.file(cameraID, t, Sanitize(eventType)+"_face.jpg")
}

func (l *Layout) file(cameraID string, t time.Time, suffix string) (string, error) {
	dir, err := l.Dir(cameraID, t)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, l.local(t).Format("20060102_150405")+"_"+suffix), nil
}

func (l *Layout) local(t time.Time) time.Time {
	if l.Location == nil {
		return t
	}
	return t.In(l.Location)
}

// Sanitize makes s safe as a single path element.
func Sanitize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "unknown"
	}
	return out
}
