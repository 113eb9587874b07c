//go:build windows

package capture

import (
	"fmt"
	"strconv"
)

func open(opts *Options) (*Stream, error) {
	if opts.Width == 0 {
		return nil, fmt.Errorf("%w: width and height are required on Windows", ErrInvalidOptions)
	}
	return startScreenGrab(opts, []string{
		"-f", "gdigrab",
		"-draw_mouse", boolFlag(opts.ShowCursor),
		"-framerate", strconv.Itoa(opts.FrameRate),
		"-offset_x", strconv.Itoa(opts.OffsetX),
		"-offset_y", strconv.Itoa(opts.OffsetY),
		"-video_size", sizeArg(opts),
		"-i", "desktop",
	}, nil)
}
