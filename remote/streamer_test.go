package remote

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentstudio.dev/deskrec/capture"
	"agentstudio.dev/deskrec/internal/logging"
	"agentstudio.dev/deskrec/preview"
)

type stillRecorder struct {
	mu    sync.Mutex
	frame *capture.Frame
}

func (r *stillRecorder) CurrentFrame() (*capture.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frame == nil {
		return nil, capture.ErrNoFrameCaptured
	}
	return r.frame, nil
}

func (r *stillRecorder) State() capture.State { return capture.StateRunning }

func (r *stillRecorder) EpochID() string { return "" }

func (r *stillRecorder) Buffered() int { return 0 }

func (r *stillRecorder) LastFrameID() (int64, bool) { return 0, false }

func (r *stillRecorder) FPS() int { return 10 }

func startFeed(t *testing.T, rec preview.Recorder) (*preview.Server, string) {
	t.Helper()
	srv, err := preview.NewServer(rec, &preview.Options{FPS: 50, Logger: logging.Discard()})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.Close(context.Background())
		ts.Close()
	})
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func frame(w, h int) *capture.Frame {
	pix := make([]byte, w*h*3)
	for i := range pix {
		pix[i] = 128
	}
	return &capture.Frame{Width: w, Height: h, Pix: pix}
}

func TestDialReceivesLatestFrame(t *testing.T) {
	rec := &stillRecorder{frame: frame(16, 8)}
	_, url := startFeed(t, rec)

	s, err := Dial(context.Background(), url, &Options{Logger: logging.Discard()})
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, s.Connected())
	w, h := s.Size()
	assert.Equal(t, 16, w)
	assert.Equal(t, 8, h)

	raw, ok := s.LatestFrame()
	require.True(t, ok)
	assert.Equal(t, capture.PixelFormatRGBA, raw.Format)
	assert.Equal(t, 16, raw.Width)

	src := capture.NewStreamSource(s)
	got, err := src.Grab()
	require.NoError(t, err)
	assert.Equal(t, 8, got.Height)
	sw, sh := src.Size()
	assert.Equal(t, 16, sw)
	assert.Equal(t, 8, sh)
}

func TestDialTimesOutWithoutFrames(t *testing.T) {
	_, url := startFeed(t, &stillRecorder{})

	_, err := Dial(context.Background(), url, &Options{
		FirstFrameTimeout: 100 * time.Millisecond,
		Logger:            logging.Discard(),
	})
	assert.ErrorIs(t, err, ErrNoFirstFrame)
}

func TestDialFails(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/ws", &Options{Logger: logging.Discard()})
	assert.Error(t, err)
}

func TestCloseIsIdempotentAndDisconnects(t *testing.T) {
	rec := &stillRecorder{frame: frame(4, 4)}
	_, url := startFeed(t, rec)

	s, err := Dial(context.Background(), url, &Options{Logger: logging.Discard()})
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.NoError(t, s.Close())
	assert.False(t, s.Connected())
	_, ok := s.LatestFrame()
	assert.False(t, ok)

	_, err = capture.NewStreamSource(s).Grab()
	assert.ErrorIs(t, err, capture.ErrSourceUnavailable)
}

func TestServerCloseMarksDisconnected(t *testing.T) {
	rec := &stillRecorder{frame: frame(4, 4)}
	srv, url := startFeed(t, rec)

	s, err := Dial(context.Background(), url, &Options{Logger: logging.Discard()})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, srv.Close(context.Background()))
	assert.Eventually(t, func() bool { return !s.Connected() }, 2*time.Second, 10*time.Millisecond)
}
