package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

type stderrTailer interface {
	StderrTail(n int) string
}

// RawSource reads fixed-size frames from a Stream. Each Grab blocks until
// one full frame has been read.
type RawSource struct {
	r      io.Reader
	closer io.Closer

	width     int
	height    int
	format    PixelFormat
	frameSize int

	closeOnce sync.Once
	closeErr  error
}

// NewRawSource wraps stream. The source owns the stream and closes it.
func NewRawSource(stream *Stream) (*RawSource, error) {
	if stream == nil || stream.ReadCloser == nil {
		return nil, fmt.Errorf("%w: nil stream", ErrInvalidOptions)
	}
	bpp := BytesPerPixel(stream.PixelFormat)
	if bpp == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, stream.PixelFormat)
	}
	if stream.Width == 0 || stream.Height == 0 {
		return nil, fmt.Errorf("%w: stream size %dx%d", ErrInvalidOptions, stream.Width, stream.Height)
	}
	w, h := int(stream.Width), int(stream.Height)
	return &RawSource{
		r:         stream.ReadCloser,
		closer:    stream.ReadCloser,
		width:     w,
		height:    h,
		format:    stream.PixelFormat,
		frameSize: w * h * bpp,
	}, nil
}

func (s *RawSource) Grab() (*RawFrame, error) {
	pix := make([]byte, s.frameSize)
	if _, err := io.ReadFull(s.r, pix); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
			errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
			if t, ok := s.closer.(stderrTailer); ok {
				return nil, fmt.Errorf("%w: %v: %s", ErrSourceClosed, err, t.StderrTail(300))
			}
			return nil, fmt.Errorf("%w: %v", ErrSourceClosed, err)
		}
		return nil, err
	}
	return &RawFrame{
		Width:  s.width,
		Height: s.height,
		Format: s.format,
		Pix:    pix,
	}, nil
}

func (s *RawSource) Size() (int, int) {
	return s.width, s.height
}

func (s *RawSource) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.closer.Close()
	})
	return s.closeErr
}
