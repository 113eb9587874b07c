package capture

import (
	"context"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"time"
)

const defaultPortalTimeout = 5 * time.Second

// Screenshotter takes a full-screen screenshot and returns the path of a
// temporary PNG file.
type Screenshotter interface {
	Screenshot(ctx context.Context) (string, error)
}

type PortalOptions struct {
	// Timeout bounds one screenshot round trip. Default 5s.
	Timeout time.Duration
	// KeepFiles leaves the temporary PNG files in place.
	KeepFiles bool
	Logger    *slog.Logger
}

// PortalSource grabs frames through the xdg-desktop-portal screenshot
// interface. It is slow and suits low frame rates on Wayland desktops.
type PortalSource struct {
	shots   Screenshotter
	timeout time.Duration
	keep    bool
	log     *slog.Logger
}

func NewPortalSource(shots Screenshotter, opts *PortalOptions) (*PortalSource, error) {
	if shots == nil {
		return nil, fmt.Errorf("%w: nil screenshotter", ErrInvalidOptions)
	}
	if opts == nil {
		opts = &PortalOptions{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultPortalTimeout
	}
	return &PortalSource{
		shots:   shots,
		timeout: timeout,
		keep:    opts.KeepFiles,
		log:     captureLogger(opts.Logger),
	}, nil
}

func (s *PortalSource) Grab() (*RawFrame, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	path, err := s.shots.Screenshot(ctx)
	if err != nil {
		return nil, err
	}
	if !s.keep {
		defer func() {
			if err := os.Remove(path); err != nil {
				s.log.Debug("portal screenshot cleanup failed", "path", path, "err", err)
			}
		}()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open portal screenshot: %w", err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode portal screenshot %s: %w", path, err)
	}
	return RawFrameFromImage(img), nil
}
