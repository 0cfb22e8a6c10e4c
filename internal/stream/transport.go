package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"doorcam/internal/buffer"
)

// Transport opens a decoded frame source for a camera URL.
type Transport interface {
	// Open connects to url and returns once the first frame is decodable.
	// Cancelling ctx must unblock any read on the returned source.
	Open(ctx context.Context, url string) (FrameSource, error)
}

// FrameSource yields decoded frames from an open transport.
type FrameSource interface {
	// ReadFrame blocks until a full frame is available.
	// A short or failed read returns an error; the source is then unusable.
	ReadFrame() (buffer.Frame, error)

	// Close releases the handle. Safe to call more than once.
	Close() error
}

// ErrShortRead is returned when the decoder emitted less than a full frame.
var ErrShortRead = errors.New("short frame read")

// FFmpegTransport decodes a source with an ffmpeg child process emitting
// raw BGR frames at a fixed size and rate on stdout.
type FFmpegTransport struct {
	FFmpegPath string
	Width      int
	Height     int
	FPS        int
	Logger     *zap.Logger
}

// NewFFmpegTransport creates a transport scaling every frame to width x height.
func NewFFmpegTransport(ffmpegPath string, width, height, fps int, logger *zap.Logger) *FFmpegTransport {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpegTransport{
		FFmpegPath: ffmpegPath,
		Width:      width,
		Height:     height,
		FPS:        fps,
		Logger:     logger.With(zap.String("component", "ffmpeg_transport")),
	}
}

// Args returns the ffmpeg argument list for url.
func (t *FFmpegTransport) Args(url string) []string {
	var args []string

	switch {
	case strings.HasPrefix(url, "rtsp://"), strings.HasPrefix(url, "rtsps://"):
		args = append(args, "-rtsp_transport", "tcp", "-i", url)
	case strings.HasPrefix(url, "/dev/video"):
		args = append(args,
			"-f", "v4l2",
			"-video_size", fmt.Sprintf("%dx%d", t.Width, t.Height),
			"-i", url,
		)
	default:
		args = append(args, "-i", url)
	}

	return append(args,
		"-an",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-s", fmt.Sprintf("%dx%d", t.Width, t.Height),
		"-r", strconv.Itoa(t.FPS),
		"pipe:1",
	)
}

// Open starts ffmpeg and waits for the first frame.
func (t *FFmpegTransport) Open(ctx context.Context, url string) (FrameSource, error) {
	if t.Width <= 0 || t.Height <= 0 || t.FPS <= 0 {
		return nil, fmt.Errorf("invalid capture geometry %dx%d@%d", t.Width, t.Height, t.FPS)
	}

	cmd := exec.CommandContext(ctx, t.FFmpegPath, t.Args(url)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			t.Logger.Debug("ffmpeg", zap.String("line", scanner.Text()))
		}
	}()

	src := &ffmpegSource{
		cmd:    cmd,
		stdout: bufio.NewReaderSize(stdout, t.Width*t.Height*buffer.BytesPerPixel),
		width:  t.Width,
		height: t.Height,
	}

	first, err := src.ReadFrame()
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("failed to open %s: %w", redact(url), err)
	}
	src.pending = &first

	return src, nil
}

type ffmpegSource struct {
	cmd     *exec.Cmd
	stdout  io.Reader
	width   int
	height  int
	pending *buffer.Frame

	closeOnce sync.Once
}

func (s *ffmpegSource) ReadFrame() (buffer.Frame, error) {
	if s.pending != nil {
		f := *s.pending
		s.pending = nil
		return f, nil
	}

	pix := make([]byte, s.width*s.height*buffer.BytesPerPixel)
	n, err := io.ReadFull(s.stdout, pix)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return buffer.Frame{}, fmt.Errorf("%w: got %d of %d bytes", ErrShortRead, n, len(pix))
		}
		return buffer.Frame{}, fmt.Errorf("failed to read frame: %w", err)
	}

	return buffer.Frame{Width: s.width, Height: s.height, Pix: pix}, nil
}

func (s *ffmpegSource) Close() error {
	s.closeOnce.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.cmd.Wait()
	})
	return nil
}

// redact strips credentials from a source URL before it is logged.
func redact(url string) string {
	scheme := strings.Index(url, "://")
	at := strings.LastIndex(url, "@")
	if scheme < 0 || at < scheme {
		return url
	}
	return url[:scheme+3] + "***@" + url[at+1:]
}
