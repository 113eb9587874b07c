package capture

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

const (
	defaultFirstFrameTimeout = 8 * time.Second
	defaultStreamFrameRate   = 30
	maxStreamFrameRate       = 60
)

func validateOpenOptions(options *Options) (*Options, error) {
	if options == nil {
		options = &Options{}
	}
	opts := *options
	if opts.OffsetX < 0 || opts.OffsetY < 0 {
		return nil, fmt.Errorf("%w: offsets must be >= 0", ErrInvalidOptions)
	}
	if opts.Width < 0 || opts.Height < 0 {
		return nil, fmt.Errorf("%w: size must be >= 0", ErrInvalidOptions)
	}
	if (opts.Width == 0) != (opts.Height == 0) {
		return nil, fmt.Errorf("%w: width and height must both be set or both be zero", ErrInvalidOptions)
	}
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.FrameRate <= 0 {
		opts.FrameRate = defaultStreamFrameRate
	}
	if opts.FrameRate > maxStreamFrameRate {
		opts.FrameRate = maxStreamFrameRate
	}
	return &opts, nil
}

// waitForFirstFrame blocks until ready closes. It fails when done closes
// first, ctx ends, or timeout passes; onTimeout runs on the timeout path.
func waitForFirstFrame(ctx context.Context, ready, done <-chan struct{}, timeout time.Duration, onTimeout func()) error {
	if timeout <= 0 {
		timeout = defaultFirstFrameTimeout
	}
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-ready:
		return nil
	case <-done:
		// ready and done may close together.
		select {
		case <-ready:
			return nil
		default:
		}
		return errLoopExited
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		if onTimeout != nil {
			onTimeout()
		}
		return fmt.Errorf("%w after %s", ErrFirstFrameTimeout, timeout)
	}
}

var dimensionsRE = regexp.MustCompile(`dimensions:\s+(\d+)x(\d+)\s+pixels`)

// parseXdpyinfoDimensions extracts the first screen size from xdpyinfo output.
func parseXdpyinfoDimensions(out []byte) (int, int, error) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		m := dimensionsRE.FindSubmatch(sc.Bytes())
		if m == nil {
			continue
		}
		w, _ := strconv.Atoi(string(m[1]))
		h, _ := strconv.Atoi(string(m[2]))
		if w > 0 && h > 0 {
			return w, h, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: no screen dimensions in xdpyinfo output", ErrInvalidOptions)
}

func boolFlag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
