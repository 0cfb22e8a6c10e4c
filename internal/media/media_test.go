package media

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLayout_Paths(t *testing.T) {
	root := t.TempDir()
	l := &Layout{Root: root, Location: time.UTC}
	at := time.Date(2024, 5, 1, 13, 4, 5, 0, time.UTC)

	clip, err := l.ClipPath("front door", "motion", at)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "front_door", "2024-05-01", "20240501_130405_motion.mp4"), clip)

	snap, err := l.SnapshotPath("front door", "ding", at)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "front_door", "2024-05-01", "20240501_130405_ding_face.jpg"), snap)

	info, err := os.Stat(filepath.Dir(clip))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	assert.Equal(t, filepath.Join(root, "media.db"), l.DatabasePath())
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "cam1", Sanitize("cam1"))
	assert.Equal(t, "_etc_passwd", Sanitize("/etc/passwd"))
	assert.Equal(t, "unknown", Sanitize(".."))
	assert.Equal(t, "unknown", Sanitize("  "))
	assert.Equal(t, "a_b", Sanitize("a/b"))
}

func touch(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestRetention_Sweep(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

	old := filepath.Join(root, "cam1", "2024-05-01", "a_motion.mp4")
	oldSnap := filepath.Join(root, "cam1", "2024-05-01", "a_motion_face.jpg")
	fresh := filepath.Join(root, "cam1", "2024-05-09", "b_ding.mp4")
	db := filepath.Join(root, DatabaseName)

	touch(t, old, now.Add(-9*24*time.Hour))
	touch(t, oldSnap, now.Add(-9*24*time.Hour))
	touch(t, fresh, now.Add(-time.Hour))
	touch(t, db, now.Add(-30*24*time.Hour))

	r := NewRetention(root, 7*24*time.Hour, zap.NewNop())
	removed, err := r.Sweep(now)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	assert.NoFileExists(t, old)
	assert.NoFileExists(t, oldSnap)
	assert.NoDirExists(t, filepath.Join(root, "cam1", "2024-05-01"))
	assert.FileExists(t, fresh)
	assert.FileExists(t, db)
}

func TestRetention_Disabled(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "cam1", "x.mp4")
	touch(t, path, time.Unix(0, 0))

	removed, err := NewRetention(root, 0, nil).Sweep(time.Now())
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.FileExists(t, path)
}

func TestRetention_MissingRoot(t *testing.T) {
	r := NewRetention(filepath.Join(t.TempDir(), "absent"), time.Hour, nil)

	removed, err := r.Sweep(time.Now())
	assert.NoError(t, err)
	assert.Zero(t, removed)
}

func TestRetention_RunStopsOnCancel(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "cam1", "x.mp4")
	touch(t, path, time.Now().Add(-48*time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewRetention(root, time.Hour, nil).Run(ctx, time.Hour)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
