package buffer

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_RGBASwapsChannels(t *testing.T) {
	f := Solid(2, 2, 10, 20, 30)

	img := f.RGBA()
	require.Equal(t, image.Rect(0, 0, 2, 2), img.Bounds())
	assert.Equal(t, color.RGBA{R: 30, G: 20, B: 10, A: 255}, img.RGBAAt(1, 1))
}

func TestFromImage_RoundTrip(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 3, 2))
	src.SetRGBA(2, 1, color.RGBA{R: 200, G: 100, B: 50, A: 255})

	f := FromImage(src)
	require.True(t, f.Valid())

	last := f.Pix[len(f.Pix)-3:]
	assert.Equal(t, []byte{50, 100, 200}, last)
	assert.Equal(t, src.RGBAAt(2, 1), f.RGBA().RGBAAt(2, 1))
}

func TestFrame_RGBAInvalidFrame(t *testing.T) {
	img := Frame{Width: 4, Height: 4}.RGBA()
	assert.Equal(t, 4, img.Bounds().Dx())
}
