package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Retention deletes clip and snapshot files older than MaxAge.
// The event store is never touched.
type Retention struct {
	Root   string
	MaxAge time.Duration
	logger *zap.Logger
}

// NewRetention creates a sweeper for root.
func NewRetention(root string, maxAge time.Duration, logger *zap.Logger) *Retention {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retention{
		Root:   root,
		MaxAge: maxAge,
		logger: logger.With(zap.String("component", "retention")),
	}
}

// Sweep removes expired files and the directories they leave empty.
func (r *Retention) Sweep(now time.Time) (int, error) {
	if r.MaxAge <= 0 {
		return 0, nil
	}

	cutoff := now.Add(-r.MaxAge)
	removed := 0
	var dirs []string
	var errs []error

	err := filepath.WalkDir(r.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			errs = append(errs, err)
			return nil
		}
		if d.IsDir() {
			if path != r.Root {
				dirs = append(dirs, path)
			}
			return nil
		}
		if isStoreFile(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}

		if err := os.Remove(path); err != nil {
			errs = append(errs, err)
			return nil
		}
		removed++
		r.logger.Debug("removed expired media", zap.String("path", path))
		return nil
	})
	if err != nil {
		errs = append(errs, err)
	}

	// Deepest first so day directories go before camera directories.
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err == nil && len(entries) == 0 {
			os.Remove(dir)
		}
	}

	if removed > 0 {
		r.logger.Info("retention sweep finished", zap.Int("removed", removed))
	}
	if len(errs) > 0 {
		return removed, fmt.Errorf("retention sweep: %w", errors.Join(errs...))
	}
	return removed, nil
}

// Run sweeps every interval until ctx is cancelled.
func (r *Retention) Run(ctx context.Context, interval time.Duration) {
	if r.MaxAge <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.Sweep(time.Now()); err != nil {
			r.logger.Warn("retention sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func isStoreFile(name string) bool {
	return strings.HasPrefix(name, DatabaseName)
}
