//go:build darwin

package capture

import (
	"fmt"
	"strconv"
	"strings"
)

func open(opts *Options) (*Stream, error) {
	if opts.Width == 0 {
		return nil, fmt.Errorf("%w: width and height are required on macOS", ErrInvalidOptions)
	}
	screen := strings.TrimSpace(opts.Display)
	if screen == "" {
		screen = "1"
	}

	// avfoundation always grabs the full screen at its backing scale; crop and
	// scale bring it to the requested region.
	filter := fmt.Sprintf("crop=%d:%d:%d:%d,scale=%d:%d",
		opts.Width, opts.Height, opts.OffsetX, opts.OffsetY, opts.Width, opts.Height)
	if opts.OffsetX == 0 && opts.OffsetY == 0 {
		filter = fmt.Sprintf("scale=%d:%d", opts.Width, opts.Height)
	}

	return startScreenGrab(opts, []string{
		"-f", "avfoundation",
		"-capture_cursor", boolFlag(opts.ShowCursor),
		"-framerate", strconv.Itoa(opts.FrameRate),
		"-i", screen + ":none",
	}, []string{"-vf", filter})
}
