// Package recorder runs recording epochs over a capture loop and turns
// buffered frame ranges into videos.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"agentstudio.dev/deskrec/capture"
	"agentstudio.dev/deskrec/internal/logging"
	"agentstudio.dev/deskrec/video"
	"agentstudio.dev/deskrec/window"
)

const defaultStartupTimeout = 8 * time.Second

var ErrInvalidOptions = errors.New("invalid recorder options")

// SaveObserver receives the outcome of every Save.
type SaveObserver interface {
	SaveCompleted(frames int, elapsed time.Duration)
	SaveFailed(err error)
}

type Options struct {
	FPS    int
	Width  int
	Height int

	Policy       capture.Policy
	CommitMode   capture.CommitMode
	CommitRatio  float64
	PollInterval time.Duration

	// StartupTimeout bounds the wait for the first frame. Default 8s.
	StartupTimeout time.Duration

	// Encoder defaults to an ffmpeg encoder with default options.
	Encoder video.Encoder
	// Window defaults to window.Noop.
	Window window.Controller

	Logger       *slog.Logger
	Observer     capture.Observer
	SaveObserver SaveObserver
}

// Epoch describes the current or last recording interval.
type Epoch struct {
	ID        string
	StartTime time.Time
	// StopTime is zero while the epoch is running.
	StopTime time.Time
	FPS      int
	Width    int
	Height   int
}

// Session owns one frame buffer and one capture loop and can run any
// number of epochs over them.
type Session struct {
	buf  *capture.FrameBuffer
	loop *capture.Loop
	win  window.Controller
	enc  video.Encoder
	log  *slog.Logger
	obs  SaveObserver

	startupTimeout time.Duration

	mu      sync.Mutex
	epochID string
}

func New(src capture.Source, options *Options) (*Session, error) {
	var opts Options
	if options != nil {
		opts = *options
	}
	log := logging.Or(opts.Logger, "recorder")

	buf := capture.NewFrameBuffer()
	loop, err := capture.NewLoop(src, buf, &capture.LoopOptions{
		FPS:          opts.FPS,
		Width:        opts.Width,
		Height:       opts.Height,
		Policy:       opts.Policy,
		CommitMode:   opts.CommitMode,
		CommitRatio:  opts.CommitRatio,
		PollInterval: opts.PollInterval,
		Logger:       opts.Logger,
		Observer:     opts.Observer,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}

	if opts.Encoder == nil {
		enc, err := video.NewFFmpegEncoder(&video.Options{Logger: opts.Logger})
		if err != nil {
			return nil, err
		}
		opts.Encoder = enc
	}
	if opts.Window == nil {
		opts.Window = window.Noop{}
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = defaultStartupTimeout
	}

	return &Session{
		buf:            buf,
		loop:           loop,
		win:            opts.Window,
		enc:            opts.Encoder,
		log:            log,
		obs:            opts.SaveObserver,
		startupTimeout: opts.StartupTimeout,
	}, nil
}

// Start clears the buffer, starts capturing and blocks until the first
// frame is buffered.
func (s *Session) Start(ctx context.Context) error {
	if err := s.loop.Start(); err != nil {
		return fmt.Errorf("start recording: %w", err)
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.epochID = id
	s.mu.Unlock()

	if err := s.loop.WaitFirstFrame(ctx, s.startupTimeout); err != nil {
		if stopErr := s.loop.Stop(); stopErr == nil {
			s.log.Debug("stopping epoch after failed start", "epoch", id)
		}
		select {
		case <-s.loop.Done():
			_ = s.loop.Wait()
		default:
		}
		return fmt.Errorf("start recording: %w", err)
	}
	w, h := s.loop.Size()
	s.log.Info("recording started", "epoch", id, "fps", s.loop.FPS(), "size", fmt.Sprintf("%dx%d", w, h))
	return nil
}

// Stop signals the capture loop. Stopping an idle session only logs.
func (s *Session) Stop() {
	if err := s.loop.Stop(); err != nil {
		s.log.Warn("screen capture is not running", "err", err)
		return
	}
	s.log.Info("recording stopping", "epoch", s.EpochID())
}

// Wait joins the capture goroutine and returns its terminal error.
func (s *Session) Wait() error {
	return s.loop.Wait()
}

// Done is closed when the current epoch's capture goroutine exits.
func (s *Session) Done() <-chan struct{} {
	return s.loop.Done()
}

// Reset discards frames, the current frame and restarts ids at 0. It is
// rejected while an epoch is running.
func (s *Session) Reset() error {
	switch s.loop.State() {
	case capture.StateRunning:
		return fmt.Errorf("reset recording: %w", capture.ErrAlreadyRunning)
	case capture.StateStopping:
		return fmt.Errorf("reset recording: %w", capture.ErrStopping)
	}
	s.buf.Reset()
	return nil
}

// Pause brings the harness window to the front. Capture continues.
func (s *Session) Pause(ctx context.Context) {
	if err := s.win.BringToFront(ctx); err != nil {
		s.log.Warn("bring window to front failed", "err", err)
	}
}

// Resume sends the harness window to the background. Capture continues.
func (s *Session) Resume(ctx context.Context) {
	if err := s.win.SendToBackground(ctx); err != nil {
		s.log.Warn("send window to background failed", "err", err)
	}
}

// CurrentFrame returns the most recent frame, buffered or not.
func (s *Session) CurrentFrame() (*capture.Frame, error) {
	return s.buf.Current()
}

func (s *Session) FPS() int {
	return s.loop.FPS()
}

func (s *Session) State() capture.State {
	return s.loop.State()
}

func (s *Session) EpochID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epochID
}

func (s *Session) Epoch() Epoch {
	start, stop := s.loop.Times()
	w, h := s.loop.Size()
	return Epoch{
		ID:        s.EpochID(),
		StartTime: start,
		StopTime:  stop,
		FPS:       s.loop.FPS(),
		Width:     w,
		Height:    h,
	}
}

// Buffered returns the number of buffered frames.
func (s *Session) Buffered() int {
	return s.buf.Len()
}

// LastFrameID returns the id of the newest buffered frame.
func (s *Session) LastFrameID() (int64, bool) {
	return s.buf.LastID()
}
