package inference

import (
	"image"
	"math"

	"golang.org/x/image/draw"

	"doorcam/internal/buffer"
)

// DecayConfig tunes the pure-Go motion detector.
type DecayConfig struct {
	// ScaleWidth is the width frames are downscaled to before comparison.
	ScaleWidth int
	// Threshold is the per-pixel luma difference counted as change.
	Threshold float64
	// Alpha is the background learning rate.
	Alpha float64
	// MinPixels is the number of changed pixels that counts as motion.
	MinPixels int
}

// DefaultDecayConfig returns the fallback detector defaults.
func DefaultDecayConfig() DecayConfig {
	return DecayConfig{
		ScaleWidth: 160,
		Threshold:  25,
		Alpha:      0.05,
		MinPixels:  200,
	}
}

// DecayMotionDetector keeps an exponentially decaying luma background and
// counts pixels that move away from it. It needs no native libraries.
type DecayMotionDetector struct {
	cfg        DecayConfig
	background []float64
	gray       *image.Gray
}

// NewDecayMotionDetector creates a fallback motion detector.
func NewDecayMotionDetector(cfg DecayConfig) *DecayMotionDetector {
	def := DefaultDecayConfig()
	if cfg.ScaleWidth <= 0 {
		cfg.ScaleWidth = def.ScaleWidth
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		cfg.Alpha = def.Alpha
	}
	if cfg.MinPixels <= 0 {
		cfg.MinPixels = def.MinPixels
	}
	return &DecayMotionDetector{cfg: cfg}
}

func (d *DecayMotionDetector) Name() string { return "decay" }

// DetectMotion compares frame with the background and then folds it in.
// The first frame, and the first frame after a size change, only seed the model.
func (d *DecayMotionDetector) DetectMotion(frame buffer.Frame) bool {
	if !frame.Valid() {
		return false
	}

	gray := d.luma(frame)
	if len(d.background) != len(gray.Pix) {
		d.background = make([]float64, len(gray.Pix))
		for i, v := range gray.Pix {
			d.background[i] = float64(v)
		}
		return false
	}

	changed := 0
	alpha := d.cfg.Alpha
	for i, v := range gray.Pix {
		cur := float64(v)
		if math.Abs(cur-d.background[i]) > d.cfg.Threshold {
			changed++
		}
		d.background[i] = (1-alpha)*d.background[i] + alpha*cur
	}

	return changed >= d.cfg.MinPixels
}

// Reset forgets the background model.
func (d *DecayMotionDetector) Reset() {
	d.background = nil
}

func (d *DecayMotionDetector) Close() error {
	d.background = nil
	return nil
}

// luma downscales frame to the working width and converts it to grayscale.
func (d *DecayMotionDetector) luma(frame buffer.Frame) *image.Gray {
	w := frame.Width
	h := frame.Height
	if w > d.cfg.ScaleWidth {
		h = int(math.Max(1, math.Round(float64(h)*float64(d.cfg.ScaleWidth)/float64(w))))
		w = d.cfg.ScaleWidth
	}

	if d.gray == nil || d.gray.Rect.Dx() != w || d.gray.Rect.Dy() != h {
		d.gray = image.NewGray(image.Rect(0, 0, w, h))
	}

	src := frame.RGBA()
	draw.ApproxBiLinear.Scale(d.gray, d.gray.Rect, src, src.Rect, draw.Src, nil)
	return d.gray
}

var _ MotionDetector = (*DecayMotionDetector)(nil)
