package preview

import (
	"bytes"
	"context"
	"encoding/json"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentstudio.dev/deskrec/capture"
	"agentstudio.dev/deskrec/internal/logging"
)

type fakeRecorder struct {
	mu    sync.Mutex
	frame *capture.Frame
}

func (r *fakeRecorder) set(f *capture.Frame) {
	r.mu.Lock()
	r.frame = f
	r.mu.Unlock()
}

func (r *fakeRecorder) CurrentFrame() (*capture.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frame == nil {
		return nil, capture.ErrNoFrameCaptured
	}
	return r.frame, nil
}

func (r *fakeRecorder) State() capture.State { return capture.StateRunning }

func (r *fakeRecorder) EpochID() string { return "epoch-1" }

func (r *fakeRecorder) Buffered() int { return 3 }

func (r *fakeRecorder) LastFrameID() (int64, bool) { return 2, true }

func (r *fakeRecorder) FPS() int { return 10 }

type countingObserver struct {
	joined, left, sent, dropped atomic.Int64
}

func (o *countingObserver) PreviewClientJoined() { o.joined.Add(1) }

func (o *countingObserver) PreviewClientLeft() { o.left.Add(1) }

func (o *countingObserver) PreviewFrameSent() { o.sent.Add(1) }

func (o *countingObserver) PreviewFrameDropped() { o.dropped.Add(1) }

func testFrame(w, h int, r byte) *capture.Frame {
	pix := make([]byte, w*h*3)
	for i := 0; i < len(pix); i += 3 {
		pix[i] = r
	}
	return &capture.Frame{ID: 0, Width: w, Height: h, Pix: pix, CapturedAt: time.Now()}
}

func newTestServer(t *testing.T, rec Recorder, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	opts.Logger = logging.Discard()
	srv, err := NewServer(rec, &opts)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.Close(context.Background())
		ts.Close()
	})
	return srv, ts
}

func TestFrameEndpoint(t *testing.T) {
	rec := &fakeRecorder{}
	_, ts := newTestServer(t, rec, Options{})

	resp, err := http.Get(ts.URL + "/frame.jpg")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	rec.set(testFrame(8, 6, 200))
	resp, err = http.Get(ts.URL + "/frame.jpg")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	img, err := jpeg.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
	assert.Equal(t, 6, img.Bounds().Dy())
}

func TestStatusEndpoint(t *testing.T) {
	_, ts := newTestServer(t, &fakeRecorder{}, Options{})

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var st Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, Status{
		State:       "running",
		EpochID:     "epoch-1",
		Buffered:    3,
		LastFrameID: 2,
		FPS:         10,
	}, st)
}

func TestMetricsMount(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("deskrec_frames_polled_total 1\n"))
	})
	_, ts := newTestServer(t, &fakeRecorder{}, Options{Metrics: metrics})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRecordingsEndpoint(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "take.mp4"), []byte("not really mp4"), 0o644))
	_, ts := newTestServer(t, &fakeRecorder{}, Options{RecordingsDir: dir})

	resp, err := http.Get(ts.URL + "/recordings/take.mp4")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	resp2, err := http.Get(ts.URL + "/recordings/missing.mp4")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestResolvePath(t *testing.T) {
	base := filepath.Join(string(filepath.Separator), "srv", "rec")

	p, ok := resolvePath(base, "/a/b.mp4")
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(base, "a", "b.mp4"), p)

	p, ok = resolvePath(base, "/../../etc/passwd")
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(base, "etc", "passwd"), p)

	p, ok = resolvePath(base, "/..data.mp4")
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(base, "..data.mp4"), p)
}

func TestWebsocketFeed(t *testing.T) {
	rec := &fakeRecorder{}
	rec.set(testFrame(4, 4, 10))
	obs := &countingObserver{}
	srv, ts := newTestServer(t, rec, Options{FPS: 50, Observer: obs})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())

	rec.set(testFrame(6, 2, 90))
	for {
		kind, data, err := conn.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, websocket.BinaryMessage, kind)
		img, err := jpeg.Decode(bytes.NewReader(data))
		require.NoError(t, err)
		if img.Bounds().Dx() == 6 {
			break
		}
	}

	assert.Equal(t, 1, srv.ClientCount())
	assert.Equal(t, int64(1), obs.joined.Load())
	assert.GreaterOrEqual(t, obs.sent.Load(), int64(1))

	conn.Close()
	assert.Eventually(t, func() bool { return srv.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), obs.left.Load())
}

func TestClientQueueDropsOldest(t *testing.T) {
	obs := &countingObserver{}
	srv := &Server{log: logging.Discard(), obs: obs, clients: map[*client]struct{}{}}
	c := &client{
		srv:    srv,
		remote: "test",
		queue:  make(chan []byte, 2),
		done:   make(chan struct{}),
	}

	c.Enqueue([]byte{1})
	c.Enqueue([]byte{2})
	c.Enqueue([]byte{3})
	c.Enqueue(nil)

	assert.Equal(t, uint64(1), c.dropped.Load())
	assert.Equal(t, int64(1), obs.dropped.Load())
	assert.Equal(t, []byte{2}, <-c.queue)
	assert.Equal(t, []byte{3}, <-c.queue)

	c.Close()
	c.Enqueue([]byte{4})
	assert.Empty(t, c.queue)
}
