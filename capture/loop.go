package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrAlreadyRunning    = errors.New("capture loop is already running")
	ErrStopping          = errors.New("capture loop is still stopping")
	ErrNotRunning        = errors.New("capture loop is not running")
	ErrFirstFrameTimeout = errors.New("timed out waiting for first frame")

	errLoopExited = errors.New("capture loop exited before the first frame")
)

// State is the lifecycle of a Loop.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Policy selects how polled frames become buffered frames.
type Policy int

const (
	// PolicyEveryTick buffers every grabbed frame and sleeps out the rest of
	// the period. Used for screen sources.
	PolicyEveryTick Policy = iota
	// PolicyLatest polls continuously, refreshes the current frame on every
	// poll and buffers only when the commit condition holds. Used for
	// stream sources.
	PolicyLatest
)

func (p Policy) String() string {
	if p == PolicyLatest {
		return "latest"
	}
	return "every_tick"
}

// CommitMode is the PolicyLatest commit condition.
type CommitMode int

const (
	// CommitSinceLast commits when CommitRatio*period has passed since the
	// previous commit.
	CommitSinceLast CommitMode = iota
	// CommitOnSchedule commits once per slot of a grid anchored at the epoch
	// start. Missed slots collapse into one commit and the grid re-anchors.
	CommitOnSchedule
)

const (
	defaultFPS         = 10
	maxFPS             = 120
	defaultCommitRatio = 1.0
)

type LoopOptions struct {
	FPS int
	// Width and Height are the epoch frame size. Zero takes the size from a
	// Sizer source.
	Width  int
	Height int

	Policy      Policy
	CommitMode  CommitMode
	CommitRatio float64
	// PollInterval is the minimum spacing of PolicyLatest polls. Default period/4.
	PollInterval time.Duration

	Logger   *slog.Logger
	Observer Observer
}

func normalizeLoopOptions(src Source, opts *LoopOptions) (LoopOptions, error) {
	var o LoopOptions
	if opts != nil {
		o = *opts
	}
	if o.FPS <= 0 {
		o.FPS = defaultFPS
	}
	if o.FPS > maxFPS {
		o.FPS = maxFPS
	}
	if o.Width == 0 && o.Height == 0 {
		if sz, ok := src.(Sizer); ok {
			o.Width, o.Height = sz.Size()
		}
	}
	if o.Width <= 0 || o.Height <= 0 {
		return o, fmt.Errorf("%w: frame size %dx%d", ErrInvalidOptions, o.Width, o.Height)
	}
	if o.CommitRatio <= 0 {
		o.CommitRatio = defaultCommitRatio
	}
	period := time.Second / time.Duration(o.FPS)
	if o.PollInterval <= 0 {
		o.PollInterval = period / 4
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	o.Logger = captureLogger(o.Logger)
	return o, nil
}

// Loop drives a Source at a fixed frame rate and commits frames into a
// FrameBuffer. One goroutine runs per epoch.
type Loop struct {
	src    Source
	buf    *FrameBuffer
	opts   LoopOptions
	period time.Duration
	log    *slog.Logger
	obs    Observer

	mu        sync.Mutex
	state     State
	stop      chan struct{}
	done      chan struct{}
	first     chan struct{}
	err       error
	startTime time.Time
	stopTime  time.Time

	lastRateLog atomic.Int64
	violations  atomic.Int64
}

func NewLoop(src Source, buf *FrameBuffer, opts *LoopOptions) (*Loop, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: nil source", ErrInvalidOptions)
	}
	if buf == nil {
		return nil, fmt.Errorf("%w: nil buffer", ErrInvalidOptions)
	}
	o, err := normalizeLoopOptions(src, opts)
	if err != nil {
		return nil, err
	}
	return &Loop{
		src:    src,
		buf:    buf,
		opts:   o,
		period: time.Second / time.Duration(o.FPS),
		log:    o.Logger,
		obs:    o.Observer,
	}, nil
}

func (l *Loop) FPS() int { return l.opts.FPS }

func (l *Loop) Size() (int, int) { return l.opts.Width, l.opts.Height }

func (l *Loop) Period() time.Duration { return l.period }

func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Times returns the start and stop time of the current or last epoch. Stop
// is zero while running.
func (l *Loop) Times() (time.Time, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.startTime, l.stopTime
}

// Start clears the buffered frames and launches a new epoch. A finished but
// unjoined goroutine is joined first. Ids keep counting across epochs.
func (l *Loop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateRunning:
		return ErrAlreadyRunning
	case StateStopping:
		select {
		case <-l.done:
			l.setStateLocked(StateIdle)
		default:
			return ErrStopping
		}
	}

	l.buf.Clear()
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	l.first = make(chan struct{})
	l.err = nil
	l.startTime = time.Now()
	l.stopTime = time.Time{}
	l.violations.Store(0)
	l.setStateLocked(StateRunning)

	l.log.Info("capture loop started",
		"fps", l.opts.FPS,
		"size", fmt.Sprintf("%dx%d", l.opts.Width, l.opts.Height),
		"policy", l.opts.Policy,
	)
	go l.run(l.stop, l.done, l.first)
	return nil
}

// WaitFirstFrame blocks until the current epoch commits its first frame.
func (l *Loop) WaitFirstFrame(ctx context.Context, timeout time.Duration) error {
	l.mu.Lock()
	first, done := l.first, l.done
	l.mu.Unlock()
	if first == nil {
		return ErrNotRunning
	}

	err := waitForFirstFrame(ctx, first, done, timeout, func() {
		l.log.Warn("capture loop produced no frame in time", "timeout", timeout)
	})
	if errors.Is(err, errLoopExited) {
		l.mu.Lock()
		cause := l.err
		l.mu.Unlock()
		if cause != nil {
			return cause
		}
	}
	return err
}

// Stop asks the running epoch to end. It does not wait.
func (l *Loop) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateRunning {
		return ErrNotRunning
	}
	l.setStateLocked(StateStopping)
	close(l.stop)
	return nil
}

// Wait joins the epoch goroutine and returns its terminal error. It returns
// immediately when no epoch was ever started.
func (l *Loop) Wait() error {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done == done && l.state == StateStopping {
		l.setStateLocked(StateIdle)
	}
	return l.err
}

// Done is closed when the current epoch goroutine exits.
func (l *Loop) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

func (l *Loop) setStateLocked(s State) {
	if l.state == s {
		return
	}
	l.state = s
	l.obs.StateChanged(s)
}

func (l *Loop) run(stop, done, first chan struct{}) {
	defer close(done)

	var err error
	switch l.opts.Policy {
	case PolicyLatest:
		err = l.runLatest(stop, first)
	default:
		err = l.runEveryTick(stop, first)
	}

	l.mu.Lock()
	l.err = err
	l.stopTime = time.Now()
	if l.state == StateRunning {
		l.setStateLocked(StateStopping)
	}
	elapsed := l.stopTime.Sub(l.startTime)
	l.mu.Unlock()

	if err != nil {
		l.obs.SourceFailed(err)
		l.log.Error("capture loop failed", "err", err, "elapsed", elapsed)
		return
	}
	l.log.Info("capture loop stopped",
		"elapsed", elapsed,
		"buffered", l.buf.Len(),
		"rate_violations", l.violations.Load(),
	)
}

func (l *Loop) grab(at time.Time) (*Frame, error) {
	raw, err := l.src.Grab()
	if err != nil {
		return nil, fmt.Errorf("grab frame: %w", err)
	}
	pix, err := Normalize(raw, l.opts.Width, l.opts.Height)
	if err != nil {
		return nil, fmt.Errorf("normalize frame: %w", err)
	}
	l.obs.FramePolled()
	return &Frame{
		ID:         -1,
		Width:      l.opts.Width,
		Height:     l.opts.Height,
		Pix:        pix,
		CapturedAt: at,
	}, nil
}

func (l *Loop) commit(f *Frame, first chan struct{}, signalled *bool) {
	stored := l.buf.Commit(f)
	l.obs.FrameCommitted(stored.ID)
	if !*signalled {
		*signalled = true
		close(first)
	}
}

func (l *Loop) runEveryTick(stop, first chan struct{}) error {
	signalled := false
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		tickStart := time.Now()
		f, err := l.grab(tickStart)
		if err != nil {
			return err
		}
		l.commit(f, first, &signalled)

		elapsed := time.Since(tickStart)
		if elapsed > l.period {
			l.rateViolation(elapsed)
			continue
		}
		if !sleepOrStop(stop, l.period-elapsed) {
			return nil
		}
	}
}

func (l *Loop) runLatest(stop, first chan struct{}) error {
	signalled := false
	threshold := time.Duration(float64(l.period) * l.opts.CommitRatio)

	var lastCommit time.Time
	lastPoll := time.Now()
	next := lastPoll

	for {
		select {
		case <-stop:
			return nil
		default:
		}

		pollStart := time.Now()
		f, err := l.grab(pollStart)
		if err != nil {
			return err
		}
		now := time.Now()

		var due bool
		switch l.opts.CommitMode {
		case CommitOnSchedule:
			due = !now.Before(next)
		default:
			due = lastCommit.IsZero() || now.Sub(lastCommit) >= threshold
		}

		if due {
			l.commit(f, first, &signalled)
			lastCommit = now
			if l.opts.CommitMode == CommitOnSchedule {
				next = next.Add(l.period)
				if !now.Before(next) {
					next = now.Add(l.period)
				}
			}
		} else {
			l.buf.SetCurrent(f)
		}

		if gap := now.Sub(lastPoll); gap > l.period {
			l.rateViolation(gap)
		}
		lastPoll = now

		if !sleepOrStop(stop, l.opts.PollInterval-time.Since(pollStart)) {
			return nil
		}
	}
}

func (l *Loop) rateViolation(elapsed time.Duration) {
	n := l.violations.Add(1)
	l.obs.RateViolation(elapsed, l.period)
	if captureShouldLog(&l.lastRateLog) {
		l.log.Warn("frame rate is too high",
			"elapsed", elapsed,
			"period", l.period,
			"fps", l.opts.FPS,
			"violations", n,
		)
	}
}

// sleepOrStop sleeps for d and reports false if stop closed first.
func sleepOrStop(stop <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-stop:
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}
