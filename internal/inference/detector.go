package inference

import (
	"image"

	"go.uber.org/zap"

	"doorcam/internal/buffer"
)

// MotionDetector decides whether a frame differs from the detector's
// rolling background model. Implementations keep per-stream state, so one
// instance must not be shared between cameras.
type MotionDetector interface {
	// DetectMotion feeds frame into the background model and reports
	// whether any foreground region exceeds the configured minimum.
	DetectMotion(frame buffer.Frame) bool

	// Name identifies the backend in logs
	Name() string

	// Close releases backend resources
	Close() error
}

// FaceDetector reports whether a frame contains at least one face.
type FaceDetector interface {
	// DetectFaces returns true and the face regions when at least one is found.
	// An unavailable detector always returns (false, nil).
	DetectFaces(frame buffer.Frame) (bool, []image.Rectangle)

	// Available reports whether a model was loaded at construction.
	Available() bool

	// Name identifies the backend in logs
	Name() string

	// Close releases backend resources
	Close() error
}

// Flags selects which detection paths run.
type Flags struct {
	Motion bool
	Face   bool
}

var (
	MotionOnly = Flags{Motion: true}
	FaceOnly   = Flags{Face: true}
	Both       = Flags{Motion: true, Face: true}
)

// Result is the outcome of one Detect call.
type Result struct {
	Motion bool
	Face   bool
	Faces  []image.Rectangle
}

// Detector composes a motion and a face backend behind one call.
// Either backend may be nil, in which case that path reports false.
type Detector struct {
	motion MotionDetector
	face   FaceDetector
	logger *zap.Logger
}

// New creates a detector from the given backends.
func New(motion MotionDetector, face FaceDetector, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if face == nil {
		face = NewUnavailableFace("no face backend configured")
	}
	return &Detector{
		motion: motion,
		face:   face,
		logger: logger.With(zap.String("component", "inference")),
	}
}

// Detect runs the requested paths on frame. It never panics; a backend that
// fails on one frame reports no detection for it.
func (d *Detector) Detect(frame buffer.Frame, flags Flags) Result {
	var res Result

	if flags.Motion && d.motion != nil {
		res.Motion = d.guard("motion", func() bool {
			return d.motion.DetectMotion(frame)
		})
	}

	if flags.Face {
		res.Face = d.guard("face", func() bool {
			found, faces := d.face.DetectFaces(frame)
			res.Faces = faces
			return found
		})
	}

	return res
}

// FaceAvailable reports whether face detection can ever return true.
func (d *Detector) FaceAvailable() bool {
	return d.face.Available()
}

// Close releases both backends.
func (d *Detector) Close() error {
	var firstErr error
	if d.motion != nil {
		if err := d.motion.Close(); err != nil {
			firstErr = err
		}
	}
	if err := d.face.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (d *Detector) guard(path string, fn func() bool) (hit bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("detector panicked", zap.String("path", path), zap.Any("panic", r))
			hit = false
		}
	}()
	return fn()
}

// unavailableFace is the degraded face backend: decided once, never retried.
type unavailableFace struct {
	reason string
}

// NewUnavailableFace returns a face detector that never finds a face.
func NewUnavailableFace(reason string) FaceDetector {
	return &unavailableFace{reason: reason}
}

func (u *unavailableFace) DetectFaces(buffer.Frame) (bool, []image.Rectangle) { return false, nil }
func (u *unavailableFace) Available() bool                                     { return false }
func (u *unavailableFace) Name() string                                        { return "unavailable" }
func (u *unavailableFace) Close() error                                        { return nil }

// Reason explains why the backend is unavailable.
func (u *unavailableFace) Reason() string { return u.reason }
