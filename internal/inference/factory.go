package inference

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Backend names accepted by Factory.
const (
	BackendAuto     = "auto"
	BackendNative   = "gocv"
	BackendRemote   = "remote"
	BackendFallback = "fallback"
)

// Config selects and tunes the detection backends.
type Config struct {
	Backend        string
	MinArea        float64
	CascadePath    string
	RemoteEndpoint string
	RemoteTimeout  time.Duration
	Decay          DecayConfig
}

// Factory builds detectors. The face backend is resolved once and shared,
// since face detection keeps no per-stream state; every call to New gets a
// fresh motion backend.
type Factory struct {
	cfg    Config
	face   FaceDetector
	native bool
	logger *zap.Logger
}

// NewFactory resolves the configured backend. Missing capabilities are logged
// here, once, and degrade to the fallback motion model or to no face detection.
func NewFactory(cfg Config, logger *zap.Logger) (*Factory, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "inference"))

	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = BackendAuto
	}

	f := &Factory{cfg: cfg, logger: logger}

	switch backend {
	case BackendAuto:
		f.native = NativeAvailable
		f.face = f.loadNativeFace()
	case BackendNative:
		if !NativeAvailable {
			logger.Warn("gocv backend requested but this binary was built without OpenCV, using fallback motion")
		}
		f.native = NativeAvailable
		f.face = f.loadNativeFace()
	case BackendRemote:
		f.native = NativeAvailable
		face, err := NewRemoteFace(RemoteFaceConfig{
			Endpoint: cfg.RemoteEndpoint,
			Timeout:  cfg.RemoteTimeout,
		}, logger)
		if err != nil {
			logger.Warn("remote face backend unavailable, face detection disabled",
				zap.String("endpoint", cfg.RemoteEndpoint),
				zap.Error(err),
			)
		}
		f.face = face
	case BackendFallback:
		f.face = NewUnavailableFace("fallback backend has no face model")
		logger.Info("using fallback motion detector, face detection disabled")
	default:
		return nil, fmt.Errorf("unknown detector backend %q", cfg.Backend)
	}

	logger.Info("detector backend ready",
		zap.String("backend", backend),
		zap.String("motion", f.motionName()),
		zap.String("face", f.face.Name()),
		zap.Bool("face_available", f.face.Available()),
	)
	return f, nil
}

func (f *Factory) loadNativeFace() FaceDetector {
	face, err := newNativeFace(f.cfg.CascadePath)
	if err != nil {
		f.logger.Warn("face model unavailable, face detection disabled", zap.Error(err))
	}
	return face
}

func (f *Factory) motionName() string {
	if f.native {
		return "mog2"
	}
	return "decay"
}

// NewMotion returns a fresh motion backend for one stream.
func (f *Factory) NewMotion() MotionDetector {
	if f.native {
		if m := newNativeMotion(f.cfg.MinArea); m != nil {
			return m
		}
	}
	return NewDecayMotionDetector(f.cfg.Decay)
}

// Face returns the shared face backend.
func (f *Factory) Face() FaceDetector {
	return f.face
}

// New returns a detector with its own motion model and the shared face backend.
func (f *Factory) New() *Detector {
	return &Detector{
		motion: f.NewMotion(),
		face:   sharedFace{f.face},
		logger: f.logger,
	}
}

// Close releases the shared face backend.
func (f *Factory) Close() error {
	return f.face.Close()
}

// sharedFace stops a per-call Detector from closing the factory's face backend.
type sharedFace struct {
	FaceDetector
}

func (sharedFace) Close() error { return nil }
