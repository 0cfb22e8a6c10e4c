package inference

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"doorcam/internal/buffer"
)

// RemoteFaceConfig points at an HTTP face detection service.
type RemoteFaceConfig struct {
	Endpoint string
	Timeout  time.Duration
}

type faceBox struct {
	BBox       []float32 `json:"bbox"`
	Confidence float32   `json:"confidence"`
}

type faceDetectResponse struct {
	Faces           []faceBox `json:"faces"`
	Count           int       `json:"count"`
	InferenceTimeMs float32   `json:"inference_time_ms"`
}

type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// RemoteFaceDetector posts JPEG frames to a face service's /detect endpoint.
type RemoteFaceDetector struct {
	client *resty.Client
	logger *zap.Logger
}

// NewRemoteFace probes the service once. If it is unreachable or reports no
// model, the unavailable variant is returned together with the reason.
func NewRemoteFace(cfg RemoteFaceConfig, logger *zap.Logger) (FaceDetector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Endpoint == "" {
		return NewUnavailableFace("remote endpoint not set"), fmt.Errorf("remote face endpoint not set")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.Endpoint).
		SetTimeout(cfg.Timeout)

	var health healthResponse
	resp, err := client.R().SetResult(&health).Get("/health")
	if err != nil {
		return NewUnavailableFace(err.Error()), fmt.Errorf("health check failed: %w", err)
	}
	if resp.IsError() {
		return NewUnavailableFace(resp.Status()), fmt.Errorf("health check returned status %d", resp.StatusCode())
	}
	if health.Status != "healthy" || !health.ModelLoaded {
		reason := fmt.Sprintf("service unhealthy: status=%s, model_loaded=%v", health.Status, health.ModelLoaded)
		return NewUnavailableFace(reason), fmt.Errorf("%s", reason)
	}

	return &RemoteFaceDetector{
		client: client,
		logger: logger.With(zap.String("component", "remote_face")),
	}, nil
}

func (r *RemoteFaceDetector) Name() string    { return "remote" }
func (r *RemoteFaceDetector) Available() bool { return true }
func (r *RemoteFaceDetector) Close() error    { return nil }

// DetectFaces reports no face when the request fails; the error is logged.
func (r *RemoteFaceDetector) DetectFaces(frame buffer.Frame) (bool, []image.Rectangle) {
	if !frame.Valid() {
		return false, nil
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.RGBA(), &jpeg.Options{Quality: 85}); err != nil {
		r.logger.Warn("failed to encode frame", zap.Error(err))
		return false, nil
	}

	var result faceDetectResponse
	resp, err := r.client.R().
		SetMultipartField("file", "frame.jpg", "image/jpeg", bytes.NewReader(buf.Bytes())).
		SetResult(&result).
		Post("/detect")
	if err != nil {
		r.logger.Warn("face request failed", zap.Error(err))
		return false, nil
	}
	if resp.IsError() {
		r.logger.Warn("face request rejected",
			zap.Int("status", resp.StatusCode()),
			zap.String("body", resp.String()),
		)
		return false, nil
	}

	rects := make([]image.Rectangle, 0, len(result.Faces))
	for _, f := range result.Faces {
		if len(f.BBox) < 4 {
			continue
		}
		rects = append(rects, image.Rect(int(f.BBox[0]), int(f.BBox[1]), int(f.BBox[2]), int(f.BBox[3])))
	}

	return len(rects) > 0, rects
}

var _ FaceDetector = (*RemoteFaceDetector)(nil)
