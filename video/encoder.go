// Package video turns buffered RGB frames into MP4 files with an ffmpeg
// subprocess.
package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"agentstudio.dev/deskrec/internal/logging"
	"agentstudio.dev/deskrec/internal/processutil"
)

var (
	ErrInvalidOptions = errors.New("invalid video encoder options")
	ErrFrameSize      = errors.New("frame size does not match the video size")
	ErrClosed         = errors.New("video writer is closed")
)

// Encoder opens video files for writing.
type Encoder interface {
	Open(ctx context.Context, path string, width, height, fps int) (FrameWriter, error)
}

// FrameWriter accepts packed RGB frames of the opened size.
type FrameWriter interface {
	WriteFrame(rgb []byte) error
	Close() error
}

const (
	defaultFFmpegPath = "ffmpeg"
	defaultCRF        = 23
	minCRF            = 0
	maxCRF            = 51
)

type Options struct {
	// FFmpegPath defaults to "ffmpeg".
	FFmpegPath string
	// Codecs is the preference order of software encoders. Default libx264, mpeg4.
	Codecs []string
	// Hardware enables probing platform hardware encoders before Codecs.
	Hardware bool
	// CRF is the libx264 quality. Default 23.
	CRF int
	// LogOutput receives ffmpeg stderr in addition to the internal tail buffer.
	LogOutput io.Writer
	Logger    *slog.Logger
}

func normalizeOptions(options *Options) (Options, error) {
	var opts Options
	if options != nil {
		opts = *options
	}
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = defaultFFmpegPath
	}
	if len(opts.Codecs) == 0 {
		opts.Codecs = []string{"libx264", "mpeg4"}
	}
	for _, c := range opts.Codecs {
		if _, ok := softwarePlans[c]; !ok {
			return opts, fmt.Errorf("%w: unsupported codec %q", ErrInvalidOptions, c)
		}
	}
	if opts.CRF == 0 {
		opts.CRF = defaultCRF
	}
	if opts.CRF < minCRF {
		opts.CRF = minCRF
	}
	if opts.CRF > maxCRF {
		opts.CRF = maxCRF
	}
	opts.Logger = logging.Or(opts.Logger, "video")
	return opts, nil
}

// FFmpegEncoder writes MP4 files by piping bgr24 rawvideo into ffmpeg. The
// codec is chosen once, on first Open.
type FFmpegEncoder struct {
	opts Options

	planOnce sync.Once
	plan     encoderPlan
}

func NewFFmpegEncoder(options *Options) (*FFmpegEncoder, error) {
	opts, err := normalizeOptions(options)
	if err != nil {
		return nil, err
	}
	return &FFmpegEncoder{opts: opts}, nil
}

// Codec returns the selected encoder name.
func (e *FFmpegEncoder) Codec() string {
	return e.selectedPlan().codec
}

func (e *FFmpegEncoder) selectedPlan() encoderPlan {
	e.planOnce.Do(func() {
		e.plan = selectEncoder(e.opts)
	})
	return e.plan
}

func (e *FFmpegEncoder) Open(ctx context.Context, path string, width, height, fps int) (FrameWriter, error) {
	if width <= 0 || height <= 0 || fps <= 0 {
		return nil, fmt.Errorf("%w: %dx%d@%d", ErrInvalidOptions, width, height, fps)
	}
	plan := e.selectedPlan()
	args := encodeArgs(plan, e.opts.CRF, path, width, height, fps)

	stderrBuf := &processutil.TailBuffer{}
	stderrWriter := io.Writer(stderrBuf)
	if e.opts.LogOutput != nil {
		stderrWriter = io.MultiWriter(e.opts.LogOutput, stderrBuf)
	}

	cmd := processutil.Command(ctx, e.opts.FFmpegPath, args...)
	cmd.Stderr = stderrWriter
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}
	e.opts.Logger.Debug("encoder opened",
		"path", path,
		"codec", plan.label,
		"size", strconv.Itoa(width)+"x"+strconv.Itoa(height),
		"fps", fps,
	)

	return &ffmpegWriter{
		path:      path,
		cmd:       cmd,
		stdin:     stdin,
		stderr:    stderrBuf,
		frameSize: width * height * 3,
		bgr:       make([]byte, width*height*3),
		started:   time.Now(),
		log:       e.opts.Logger,
	}, nil
}

func encodeArgs(plan encoderPlan, crf int, path string, width, height, fps int) []string {
	fpsArg := strconv.Itoa(fps)
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin", "-y"}
	args = append(args, plan.globalArgs...)
	args = append(args,
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-video_size", strconv.Itoa(width)+"x"+strconv.Itoa(height),
		"-framerate", fpsArg,
		"-i", "pipe:0",
		"-an",
		"-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2,"+plan.pixelFilter,
	)
	args = append(args, plan.codecArgs...)
	if plan.codec == "libx264" {
		args = append(args, "-crf", strconv.Itoa(crf))
	}
	args = append(args,
		"-r", fpsArg,
		"-movflags", "+faststart",
		"-f", "mp4",
		path,
	)
	return args
}

type ffmpegWriter struct {
	path      string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stderr    *processutil.TailBuffer
	frameSize int
	bgr       []byte
	frames    int
	started   time.Time
	log       *slog.Logger

	mu       sync.Mutex
	closed   bool
	closeErr error
}

func (w *ffmpegWriter) WriteFrame(rgb []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if len(rgb) != w.frameSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(rgb), w.frameSize)
	}
	rgbToBGR(w.bgr, rgb)
	if _, err := w.stdin.Write(w.bgr); err != nil {
		return fmt.Errorf("ffmpeg write frame %d: %w: %s", w.frames, err, w.stderr.Tail(300))
	}
	w.frames++
	return nil
}

func (w *ffmpegWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return w.closeErr
	}
	w.closed = true

	stdinErr := w.stdin.Close()
	if waitErr := w.cmd.Wait(); waitErr != nil {
		w.closeErr = fmt.Errorf("ffmpeg encode %s: %w: %s", w.path, waitErr, w.stderr.Tail(300))
		return w.closeErr
	}
	if stdinErr != nil && !errors.Is(stdinErr, io.ErrClosedPipe) {
		w.closeErr = fmt.Errorf("ffmpeg stdin close: %w", stdinErr)
		return w.closeErr
	}
	w.log.Debug("encoder closed", "path", w.path, "frames", w.frames, "elapsed", time.Since(w.started))
	return nil
}

// rgbToBGR swaps the outer channels of packed RGB into dst.
func rgbToBGR(dst, rgb []byte) {
	for i := 0; i+2 < len(rgb); i += 3 {
		dst[i] = rgb[i+2]
		dst[i+1] = rgb[i+1]
		dst[i+2] = rgb[i]
	}
}
