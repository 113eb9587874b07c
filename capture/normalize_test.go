package capture

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeChannelOrders(t *testing.T) {
	tests := []struct {
		format PixelFormat
		pix    []byte
	}{
		{PixelFormatRGB, []byte{10, 20, 30}},
		{PixelFormatBGR, []byte{30, 20, 10}},
		{PixelFormatRGBA, []byte{10, 20, 30, 255}},
		{PixelFormatBGRA, []byte{30, 20, 10, 255}},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			raw := &RawFrame{Width: 1, Height: 1, Format: tt.format, Pix: tt.pix}
			got, err := Normalize(raw, 1, 1)
			require.NoError(t, err)
			assert.Equal(t, []byte{10, 20, 30}, got)
		})
	}
}

func TestNormalizeAllocatesFreshMemory(t *testing.T) {
	pix := []byte{1, 2, 3, 4, 5, 6}
	raw := &RawFrame{Width: 2, Height: 1, Format: PixelFormatRGB, Pix: pix}
	got, err := Normalize(raw, 2, 1)
	require.NoError(t, err)

	pix[0] = 99
	assert.Equal(t, byte(1), got[0])
}

func TestNormalizeHonoursStride(t *testing.T) {
	raw := &RawFrame{
		Width:  1,
		Height: 2,
		Stride: 8,
		Format: PixelFormatBGRA,
		Pix:    []byte{3, 2, 1, 255, 0, 0, 0, 0, 6, 5, 4, 255},
	}
	got, err := Normalize(raw, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, got)
}

func TestNormalizeRescales(t *testing.T) {
	pix := make([]byte, 4*4*4)
	for i := 0; i < len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = 200, 100, 50, 255
	}
	raw := &RawFrame{Width: 4, Height: 4, Format: PixelFormatRGBA, Pix: pix}

	got, err := Normalize(raw, 2, 2)
	require.NoError(t, err)
	require.Len(t, got, 2*2*3)
	for i := 0; i < len(got); i += 3 {
		assert.InDelta(t, 200, int(got[i]), 1)
		assert.InDelta(t, 100, int(got[i+1]), 1)
		assert.InDelta(t, 50, int(got[i+2]), 1)
	}
}

func TestNormalizeRejectsBadInput(t *testing.T) {
	_, err := Normalize(&RawFrame{Width: 1, Height: 1, Format: "YUV", Pix: []byte{0}}, 1, 1)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Normalize(&RawFrame{Width: 2, Height: 2, Format: PixelFormatRGB, Pix: []byte{0, 0, 0}}, 2, 2)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Normalize(&RawFrame{Width: 1, Height: 1, Format: PixelFormatRGB, Pix: []byte{0, 0, 0}}, 0, 1)
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestRawFrameFromImageAndBack(t *testing.T) {
	img := image.NewNRGBA(image.Rect(5, 5, 7, 6))
	img.Set(5, 5, color.NRGBA{R: 1, G: 2, B: 3, A: 255})
	img.Set(6, 5, color.NRGBA{R: 4, G: 5, B: 6, A: 255})

	raw := RawFrameFromImage(img)
	assert.Equal(t, 2, raw.Width)
	assert.Equal(t, 1, raw.Height)

	pix, err := Normalize(raw, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, pix)

	f := &Frame{Width: 2, Height: 1, Pix: pix}
	rgba := f.RGBA()
	assert.Equal(t, color.RGBA{R: 4, G: 5, B: 6, A: 255}, rgba.RGBAAt(1, 0))
}
