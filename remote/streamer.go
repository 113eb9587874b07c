// Package remote receives a JPEG frame feed over a websocket and exposes
// the newest frame as a capture stream source.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"agentstudio.dev/deskrec/capture"
	"agentstudio.dev/deskrec/internal/logging"
)

var ErrNoFirstFrame = errors.New("remote stream sent no frame")

const (
	defaultFirstFrameTimeout = 5 * time.Second
	defaultPingInterval      = 25 * time.Second
	defaultReadLimit         = 32 << 20
)

type Options struct {
	// FirstFrameTimeout bounds how long Dial waits for the first frame so the
	// stream size is known. Default 5s.
	FirstFrameTimeout time.Duration
	PingInterval      time.Duration
	// ReadLimit caps one message in bytes. Default 32MiB.
	ReadLimit int64
	Dialer    *websocket.Dialer
	Logger    *slog.Logger
}

// Streamer keeps the newest decoded frame of a websocket feed. It
// implements capture.LatestFrameProvider and capture.Sizer.
type Streamer struct {
	url  string
	conn *websocket.Conn
	log  *slog.Logger

	mu     sync.Mutex
	latest *capture.RawFrame
	width  int
	height int

	connected atomic.Bool
	received  atomic.Uint64
	badFrames atomic.Uint64
	lastBad   atomic.Int64

	first     chan struct{}
	firstOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial connects to url and waits for the first frame.
func Dial(ctx context.Context, url string, options *Options) (*Streamer, error) {
	var opts Options
	if options != nil {
		opts = *options
	}
	if opts.FirstFrameTimeout <= 0 {
		opts.FirstFrameTimeout = defaultFirstFrameTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	log := logging.Or(opts.Logger, "remote")

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("remote dial %s: %w", url, err)
	}
	conn.SetReadLimit(opts.ReadLimit)

	s := &Streamer{
		url:   url,
		conn:  conn,
		log:   log,
		first: make(chan struct{}),
		done:  make(chan struct{}),
	}
	s.connected.Store(true)
	s.wg.Add(2)
	go s.readLoop()
	go s.pingLoop(opts.PingInterval)
	log.Info("remote stream connected", "url", url)

	t := time.NewTimer(opts.FirstFrameTimeout)
	defer t.Stop()
	select {
	case <-s.first:
		return s, nil
	case <-s.done:
		_ = s.Close()
		return nil, fmt.Errorf("%w: connection closed", ErrNoFirstFrame)
	case <-t.C:
		_ = s.Close()
		return nil, fmt.Errorf("%w within %s", ErrNoFirstFrame, opts.FirstFrameTimeout)
	case <-ctx.Done():
		_ = s.Close()
		return nil, ctx.Err()
	}
}

// LatestFrame returns the newest frame while the connection is up.
func (s *Streamer) LatestFrame() (*capture.RawFrame, bool) {
	if !s.connected.Load() {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.latest != nil
}

// Size returns the size of the newest frame.
func (s *Streamer) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

func (s *Streamer) Connected() bool {
	return s.connected.Load()
}

// Received returns the number of frames decoded so far.
func (s *Streamer) Received() uint64 {
	return s.received.Load()
}

func (s *Streamer) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.connected.Store(false)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
		s.wg.Wait()
		s.log.Info("remote stream closed", "url", s.url, "frames", s.received.Load())
	})
	return err
}

func (s *Streamer) readLoop() {
	defer s.wg.Done()
	defer close(s.done)
	defer s.connected.Store(false)

	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.connected.Load() {
				s.log.Warn("remote stream read failed", "url", s.url, "err", err)
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			n := s.badFrames.Add(1)
			if logging.ShouldLog(&s.lastBad, time.Second) {
				s.log.Warn("remote frame decode failed", "err", err, "bad_frames", n)
			}
			continue
		}
		raw := capture.RawFrameFromImage(img)

		s.mu.Lock()
		s.latest = raw
		s.width, s.height = raw.Width, raw.Height
		s.mu.Unlock()
		s.received.Add(1)
		s.firstOnce.Do(func() { close(s.first) })
	}
}

func (s *Streamer) pingLoop(interval time.Duration) {
	defer s.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				s.log.Debug("remote ping failed", "err", err)
			}
		}
	}
}
