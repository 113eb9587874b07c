//go:build linux

package capture

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const xdpyinfoTimeout = 3 * time.Second

func open(opts *Options) (*Stream, error) {
	display := strings.TrimSpace(opts.Display)
	if display == "" {
		display = strings.TrimSpace(os.Getenv("DISPLAY"))
	}
	if display == "" {
		display = ":0"
	}

	if opts.Width == 0 {
		w, h, err := detectDisplaySize(display)
		if err != nil {
			return nil, err
		}
		opts.Width = w - opts.OffsetX
		opts.Height = h - opts.OffsetY
		if opts.Width <= 0 || opts.Height <= 0 {
			return nil, fmt.Errorf("%w: offset outside display %dx%d", ErrInvalidOptions, w, h)
		}
	}

	input := display + "+" + strconv.Itoa(opts.OffsetX) + "," + strconv.Itoa(opts.OffsetY)
	return startScreenGrab(opts, []string{
		"-f", "x11grab",
		"-draw_mouse", boolFlag(opts.ShowCursor),
		"-framerate", strconv.Itoa(opts.FrameRate),
		"-video_size", sizeArg(opts),
		"-i", input,
	}, nil)
}

func detectDisplaySize(display string) (int, int, error) {
	path, err := exec.LookPath("xdpyinfo")
	if err != nil {
		return 0, 0, fmt.Errorf("%w: width/height unset and xdpyinfo not found", ErrInvalidOptions)
	}
	ctx, cancel := context.WithTimeout(context.Background(), xdpyinfoTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "-display", display).Output()
	if err != nil {
		return 0, 0, fmt.Errorf("xdpyinfo -display %s: %w", display, err)
	}
	return parseXdpyinfoDimensions(out)
}
