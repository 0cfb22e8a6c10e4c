package clip

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"os"
	"path/filepath"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"doorcam/internal/buffer"
)

// SnapshotQuality is the JPEG quality used for snapshots.
const SnapshotQuality = 85

// WriteSnapshot encodes frame as a JPEG at path. A non-empty label is drawn
// in the top-left corner over a dark strip.
func WriteSnapshot(frame buffer.Frame, path, label string) error {
	if !frame.Valid() {
		return fmt.Errorf("invalid frame %dx%d", frame.Width, frame.Height)
	}

	img := frame.RGBA()
	if label != "" {
		drawLabel(img, label)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}

	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: SnapshotQuality}); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// drawLabel renders text with the 7x13 bitmap face.
func drawLabel(img *image.RGBA, label string) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, label).Ceil() + 6
	strip := image.Rect(0, 0, width, 17).Intersect(img.Bounds())

	draw.Draw(img, strip, image.NewUniform(color.RGBA{A: 180}), image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{R: 255, G: 255, B: 255, A: 255}),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(3), Y: fixed.I(13)},
	}
	d.DrawString(label)
}
