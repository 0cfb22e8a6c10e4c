package buffer

import (
	"image"
	"image/color"
)

// RGBA converts the frame to an image, swapping BGR to RGB.
func (f Frame) RGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	if !f.Valid() {
		return img
	}

	for i, j := 0, 0; i < len(f.Pix); i, j = i+BytesPerPixel, j+4 {
		img.Pix[j] = f.Pix[i+2]
		img.Pix[j+1] = f.Pix[i+1]
		img.Pix[j+2] = f.Pix[i]
		img.Pix[j+3] = 0xff
	}
	return img
}

// FromImage builds a BGR frame from any image.
func FromImage(img image.Image) Frame {
	b := img.Bounds()
	f := Frame{
		Width:  b.Dx(),
		Height: b.Dy(),
		Pix:    make([]byte, b.Dx()*b.Dy()*BytesPerPixel),
	}

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			f.Pix[i] = c.B
			f.Pix[i+1] = c.G
			f.Pix[i+2] = c.R
			i += BytesPerPixel
		}
	}
	return f
}

// Solid returns a frame filled with one BGR color.
func Solid(width, height int, b, g, r byte) Frame {
	pix := make([]byte, width*height*BytesPerPixel)
	for i := 0; i < len(pix); i += BytesPerPixel {
		pix[i], pix[i+1], pix[i+2] = b, g, r
	}
	return Frame{Width: width, Height: height, Pix: pix}
}
