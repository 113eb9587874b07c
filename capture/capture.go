// Package capture acquires frames from a screen or a remote stream, paces
// them to a target frame rate and keeps them in an id-ordered buffer.
package capture

import (
	"errors"
	"image"
	"io"
	"time"
)

// PixelFormat names the byte order of a raw frame.
type PixelFormat string

const (
	// PixelFormatBGRA is the output of the ffmpeg screen backends on every platform.
	PixelFormatBGRA PixelFormat = "BGRA"
	PixelFormatRGBA PixelFormat = "RGBA"
	PixelFormatBGR  PixelFormat = "BGR"
	// PixelFormatRGB is the canonical order of buffered frames.
	PixelFormatRGB PixelFormat = "RGB"
)

var (
	ErrNotImplemented    = errors.New("screen capture backend is not implemented on this platform")
	ErrCancelled         = errors.New("screen capture request was cancelled")
	ErrInvalidOptions    = errors.New("invalid screen capture options")
	ErrSourceUnavailable = errors.New("frame source is not connected")
	ErrSourceClosed      = errors.New("frame source is closed")
	ErrNoFrameCaptured   = errors.New("no frame has been captured")
	ErrFrameOrder        = errors.New("frame id is not greater than the last buffered id")
	ErrUnsupportedFormat = errors.New("unsupported pixel format")
)

// Options configures an ffmpeg screen grab stream.
type Options struct {
	// FFmpegPath defaults to "ffmpeg".
	FFmpegPath string
	// Display selects the grabbed screen. Linux: X11 display (":0.0", defaults to
	// $DISPLAY). macOS: avfoundation screen index. Windows: ignored ("desktop").
	Display string
	// OffsetX and OffsetY select the top-left corner of the region.
	OffsetX int
	OffsetY int
	// Width and Height of the captured region. Zero autodetects on Linux.
	Width  int
	Height int
	// FrameRate is the device rate requested from ffmpeg. Default 30, max 60.
	FrameRate  int
	ShowCursor bool
	// LogOutput receives ffmpeg stderr in addition to the internal tail buffer.
	LogOutput io.Writer
}

// Stream is a unified raw frame source. Read yields raw BGRA bytes, one
// Width*Height*4 block per frame.
type Stream struct {
	io.ReadCloser

	Width       uint32
	Height      uint32
	FrameRate   uint32
	PixelFormat PixelFormat
}

// Open starts an OS-specific ffmpeg screen grab and returns a unified BGRA
// frame reader.
func Open(options *Options) (*Stream, error) {
	opts, err := validateOpenOptions(options)
	if err != nil {
		return nil, err
	}
	return open(opts)
}

// RawFrame is one unnormalized sample as produced by a Source.
type RawFrame struct {
	Width  int
	Height int
	// Stride is the number of bytes per row. Zero means tightly packed.
	Stride int
	Format PixelFormat
	Pix    []byte
}

// RawFrameFromImage packs any image into an RGBA raw frame.
func RawFrameFromImage(img image.Image) *RawFrame {
	rgba := toRGBA(img)
	b := rgba.Bounds()
	return &RawFrame{
		Width:  b.Dx(),
		Height: b.Dy(),
		Stride: rgba.Stride,
		Format: PixelFormatRGBA,
		Pix:    rgba.Pix,
	}
}

// Frame is an immutable RGB sample. Pix is tightly packed, 3 bytes per
// pixel. ID is -1 for preview frames that were never buffered.
type Frame struct {
	ID         int64
	Width      int
	Height     int
	Pix        []byte
	CapturedAt time.Time
}

// RGBA returns a copy of the frame as an *image.RGBA.
func (f *Frame) RGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i, j := 0, 0; i+2 < len(f.Pix) && j+3 < len(img.Pix); i, j = i+3, j+4 {
		img.Pix[j] = f.Pix[i]
		img.Pix[j+1] = f.Pix[i+1]
		img.Pix[j+2] = f.Pix[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// Source produces raw frames on demand.
type Source interface {
	Grab() (*RawFrame, error)
}

// Sizer is implemented by sources that know their frame dimensions up front.
type Sizer interface {
	Size() (width, height int)
}

// Observer receives capture loop events. Implementations must be cheap and
// safe for concurrent use.
type Observer interface {
	FramePolled()
	FrameCommitted(id int64)
	RateViolation(elapsed, period time.Duration)
	SourceFailed(err error)
	StateChanged(state State)
}

type nopObserver struct{}

func (nopObserver) FramePolled() {}

func (nopObserver) FrameCommitted(int64) {}

func (nopObserver) RateViolation(time.Duration, time.Duration) {}

func (nopObserver) SourceFailed(error) {}

func (nopObserver) StateChanged(State) {}
