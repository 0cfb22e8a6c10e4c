package clip

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"doorcam/internal/buffer"
)

// ErrNoEncoder is returned when the ffmpeg binary cannot be found.
var ErrNoEncoder = errors.New("ffmpeg not available")

// Assembler encodes buffered frames into a video file with ffmpeg.
type Assembler struct {
	ffmpegPath string
	logger     *zap.Logger
}

// NewAssembler creates an assembler using the given ffmpeg binary.
func NewAssembler(ffmpegPath string, logger *zap.Logger) *Assembler {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{
		ffmpegPath: ffmpegPath,
		logger:     logger.With(zap.String("component", "clip")),
	}
}

// Args returns the encode command line for frames of width x height.
// Frames are piped as BGR and converted to yuv420p for playback compatibility.
func (a *Assembler) Args(width, height, fps int, outputPath string) []string {
	return []string{
		"-y",
		"-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.Itoa(fps),
		"-i", "pipe:0",
		"-an",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		outputPath,
	}
}

// Assemble writes frames, in order, to outputPath at fps.
// An empty frame list is a no-op and creates no file.
func (a *Assembler) Assemble(ctx context.Context, frames []buffer.Frame, outputPath string, fps int) error {
	if len(frames) == 0 {
		return nil
	}
	if fps <= 0 {
		return fmt.Errorf("invalid clip fps %d", fps)
	}

	first := frames[0]
	if !first.Valid() {
		return fmt.Errorf("invalid first frame %dx%d with %d bytes", first.Width, first.Height, len(first.Pix))
	}

	if _, err := exec.LookPath(a.ffmpegPath); err != nil {
		return fmt.Errorf("%w: %v", ErrNoEncoder, err)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create clip directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, a.ffmpegPath, a.Args(first.Width, first.Height, fps, outputPath)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	written, skipped := 0, 0
	var writeErr error
	for _, f := range frames {
		if f.Width != first.Width || f.Height != first.Height || !f.Valid() {
			skipped++
			continue
		}
		if _, err := stdin.Write(f.Pix); err != nil {
			writeErr = fmt.Errorf("failed to write frame %d: %w", written, err)
			break
		}
		written++
	}
	stdin.Close()

	waitErr := cmd.Wait()
	if skipped > 0 {
		a.logger.Warn("skipped frames with mismatched geometry",
			zap.Int("skipped", skipped),
			zap.String("path", outputPath),
		)
	}

	if waitErr != nil || writeErr != nil {
		os.Remove(outputPath)
		if waitErr != nil {
			return fmt.Errorf("ffmpeg failed: %w: %s", waitErr, tail(stderr.String(), 512))
		}
		return writeErr
	}

	a.logger.Debug("clip written",
		zap.String("path", outputPath),
		zap.Int("frames", written),
		zap.Int("fps", fps),
	)
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
