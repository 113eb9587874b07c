package capture

import (
	"fmt"
	"image"

	xdraw "golang.org/x/image/draw"
)

type channelLayout struct {
	r, g, b int
	bpp     int
}

var layouts = map[PixelFormat]channelLayout{
	PixelFormatRGB:  {r: 0, g: 1, b: 2, bpp: 3},
	PixelFormatBGR:  {r: 2, g: 1, b: 0, bpp: 3},
	PixelFormatRGBA: {r: 0, g: 1, b: 2, bpp: 4},
	PixelFormatBGRA: {r: 2, g: 1, b: 0, bpp: 4},
}

// BytesPerPixel returns the pixel size of format, or 0 if unknown.
func BytesPerPixel(format PixelFormat) int {
	return layouts[format].bpp
}

// Normalize converts raw into a freshly allocated, tightly packed RGB buffer
// of width x height. Raw frames of another size are rescaled.
func Normalize(raw *RawFrame, width, height int) ([]byte, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: nil frame", ErrUnsupportedFormat)
	}
	layout, ok := layouts[raw.Format]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, raw.Format)
	}
	if raw.Width <= 0 || raw.Height <= 0 || width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d -> %dx%d", ErrInvalidOptions, raw.Width, raw.Height, width, height)
	}
	stride := raw.Stride
	if stride == 0 {
		stride = raw.Width * layout.bpp
	}
	if stride < raw.Width*layout.bpp || len(raw.Pix) < stride*(raw.Height-1)+raw.Width*layout.bpp {
		return nil, fmt.Errorf("%w: short pixel buffer len=%d stride=%d", ErrUnsupportedFormat, len(raw.Pix), stride)
	}

	if raw.Width == width && raw.Height == height {
		return packRGB(raw.Pix, stride, width, height, layout), nil
	}

	src := image.NewRGBA(image.Rect(0, 0, raw.Width, raw.Height))
	unpackRGBA(src, raw.Pix, stride, layout)
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return packRGB(dst.Pix, dst.Stride, width, height, layouts[PixelFormatRGBA]), nil
}

func packRGB(pix []byte, stride, width, height int, layout channelLayout) []byte {
	out := make([]byte, width*height*3)
	o := 0
	for y := 0; y < height; y++ {
		row := pix[y*stride:]
		for x := 0; x < width; x++ {
			p := row[x*layout.bpp:]
			out[o] = p[layout.r]
			out[o+1] = p[layout.g]
			out[o+2] = p[layout.b]
			o += 3
		}
	}
	return out
}

func unpackRGBA(dst *image.RGBA, pix []byte, stride int, layout channelLayout) {
	b := dst.Bounds()
	for y := 0; y < b.Dy(); y++ {
		row := pix[y*stride:]
		out := dst.Pix[y*dst.Stride:]
		for x := 0; x < b.Dx(); x++ {
			p := row[x*layout.bpp:]
			out[x*4] = p[layout.r]
			out[x*4+1] = p[layout.g]
			out[x*4+2] = p[layout.b]
			out[x*4+3] = 0xff
		}
	}
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(rgba, rgba.Bounds(), img, b.Min, xdraw.Src)
	return rgba
}
