//go:build withcv

package inference

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"doorcam/internal/buffer"
)

// NativeAvailable reports whether this binary was built with OpenCV.
const NativeAvailable = true

// DefaultCascadePath is the frontal face model shipped with OpenCV.
const DefaultCascadePath = "haarcascade_frontalface_default.xml"

// MOG2MotionDetector segments foreground with a Gaussian mixture background
// model and reports motion when any blob is larger than MinArea pixels.
type MOG2MotionDetector struct {
	minArea float64
	mog2    gocv.BackgroundSubtractorMOG2
	mask    gocv.Mat
	blurred gocv.Mat
}

// NewMOG2MotionDetector creates a detector; minArea <= 0 uses 500.
func NewMOG2MotionDetector(minArea float64) *MOG2MotionDetector {
	if minArea <= 0 {
		minArea = 500
	}
	return &MOG2MotionDetector{
		minArea: minArea,
		mog2:    gocv.NewBackgroundSubtractorMOG2(),
		mask:    gocv.NewMat(),
		blurred: gocv.NewMat(),
	}
}

func (m *MOG2MotionDetector) Name() string { return "mog2" }

func (m *MOG2MotionDetector) DetectMotion(frame buffer.Frame) bool {
	img, err := toMat(frame)
	if err != nil {
		return false
	}
	defer img.Close()

	m.mog2.Apply(img, &m.mask)
	gocv.GaussianBlur(m.mask, &m.blurred, image.Pt(21, 21), 0, 0, gocv.BorderDefault)
	gocv.Threshold(m.blurred, &m.mask, 25, 255, gocv.ThresholdBinary)

	contours := gocv.FindContours(m.mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	for i := 0; i < contours.Size(); i++ {
		if gocv.ContourArea(contours.At(i)) > m.minArea {
			return true
		}
	}
	return false
}

func (m *MOG2MotionDetector) Close() error {
	m.blurred.Close()
	m.mask.Close()
	return m.mog2.Close()
}

// CascadeFaceDetector runs a Haar cascade over a grayscale copy of the frame.
// DetectMultiScale is serialized because one classifier is shared by all
// pipeline runs.
type CascadeFaceDetector struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
}

// NewCascadeFace loads the model at path. A missing or invalid model yields
// the unavailable variant and an error describing why.
func NewCascadeFace(path string) (FaceDetector, error) {
	if path == "" {
		path = DefaultCascadePath
	}

	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(path) {
		classifier.Close()
		return NewUnavailableFace("cascade not loaded: " + path), fmt.Errorf("failed to load cascade %s", path)
	}
	return &CascadeFaceDetector{classifier: classifier}, nil
}

func (c *CascadeFaceDetector) Name() string    { return "haar" }
func (c *CascadeFaceDetector) Available() bool { return true }

func (c *CascadeFaceDetector) DetectFaces(frame buffer.Frame) (bool, []image.Rectangle) {
	img, err := toMat(frame)
	if err != nil {
		return false, nil
	}
	defer img.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	c.mu.Lock()
	faces := c.classifier.DetectMultiScaleWithParams(gray, 1.1, 4, 0, image.Point{}, image.Point{})
	c.mu.Unlock()

	return len(faces) > 0, faces
}

func (c *CascadeFaceDetector) Close() error {
	return c.classifier.Close()
}

func toMat(frame buffer.Frame) (gocv.Mat, error) {
	if !frame.Valid() {
		return gocv.NewMat(), fmt.Errorf("invalid frame %dx%d", frame.Width, frame.Height)
	}
	return gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Pix)
}

func newNativeMotion(minArea float64) MotionDetector {
	return NewMOG2MotionDetector(minArea)
}

func newNativeFace(path string) (FaceDetector, error) {
	return NewCascadeFace(path)
}

var (
	_ MotionDetector = (*MOG2MotionDetector)(nil)
	_ FaceDetector   = (*CascadeFaceDetector)(nil)
)
