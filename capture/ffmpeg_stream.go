package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"agentstudio.dev/deskrec/internal/processutil"
)

// ffmpegReadCloser owns a screen grab process and its stdout pipe.
type ffmpegReadCloser struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *processutil.TailBuffer

	once sync.Once
	err  error
}

func (r *ffmpegReadCloser) Read(p []byte) (int, error) {
	return r.stdout.Read(p)
}

// StderrTail returns the end of ffmpeg's diagnostic output.
func (r *ffmpegReadCloser) StderrTail(n int) string {
	return r.stderr.Tail(n)
}

func (r *ffmpegReadCloser) Close() error {
	r.once.Do(func() {
		var killErr error
		if r.cmd.Process != nil {
			if err := r.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				killErr = err
			}
		}
		pipeErr := r.stdout.Close()
		if errors.Is(pipeErr, os.ErrClosed) {
			pipeErr = nil
		}
		// Wait reports the kill signal; only surface failures that happened earlier.
		_ = r.cmd.Wait()
		r.err = errors.Join(killErr, pipeErr)
	})
	return r.err
}

// startScreenGrab runs ffmpeg with the platform input args and exposes its
// BGRA rawvideo output as a Stream.
func startScreenGrab(opts *Options, inputArgs, filterArgs []string) (*Stream, error) {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	args = append(args, inputArgs...)
	args = append(args, filterArgs...)
	args = append(args,
		"-an",
		"-f", "rawvideo",
		"-pix_fmt", "bgra",
		"pipe:1",
	)

	stderrBuf := &processutil.TailBuffer{}
	stderrWriter := io.Writer(stderrBuf)
	if opts.LogOutput != nil {
		stderrWriter = io.MultiWriter(opts.LogOutput, stderrBuf)
	}

	cmd := processutil.Command(context.Background(), opts.FFmpegPath, args...)
	cmd.Stderr = stderrWriter
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("screen grab stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("screen grab ffmpeg start: %w", err)
	}
	captureLogger(nil).Debug("screen grab started",
		"ffmpeg", opts.FFmpegPath,
		"size", strconv.Itoa(opts.Width)+"x"+strconv.Itoa(opts.Height),
		"fps", opts.FrameRate,
	)

	return &Stream{
		ReadCloser:  &ffmpegReadCloser{cmd: cmd, stdout: stdout, stderr: stderrBuf},
		Width:       uint32(opts.Width),
		Height:      uint32(opts.Height),
		FrameRate:   uint32(opts.FrameRate),
		PixelFormat: PixelFormatBGRA,
	}, nil
}

func sizeArg(opts *Options) string {
	return strconv.Itoa(opts.Width) + "x" + strconv.Itoa(opts.Height)
}
