// Package preview serves the live capture feed, recorder status, metrics
// and saved recordings over HTTP.
package preview

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"agentstudio.dev/deskrec/capture"
	"agentstudio.dev/deskrec/internal/logging"
)

const (
	defaultFPS         = 5
	defaultJPEGQuality = 75
	defaultClientQueue = 4
)

// Recorder is the view of a recording session the server needs.
type Recorder interface {
	CurrentFrame() (*capture.Frame, error)
	State() capture.State
	EpochID() string
	Buffered() int
	LastFrameID() (int64, bool)
	FPS() int
}

// Observer receives preview feed events.
type Observer interface {
	PreviewClientJoined()
	PreviewClientLeft()
	PreviewFrameSent()
	PreviewFrameDropped()
}

type nopObserver struct{}

func (nopObserver) PreviewClientJoined() {}

func (nopObserver) PreviewClientLeft() {}

func (nopObserver) PreviewFrameSent() {}

func (nopObserver) PreviewFrameDropped() {}

type Options struct {
	// FPS is the websocket feed rate. Default 5.
	FPS         int
	JPEGQuality int
	// ClientQueue is the per-client frame queue length. Default 4.
	ClientQueue int
	// RecordingsDir is served under /recordings/ when set.
	RecordingsDir string
	// Metrics is mounted at /metrics when set.
	Metrics  http.Handler
	Logger   *slog.Logger
	Observer Observer
}

// Status is the /status response body.
type Status struct {
	State       string `json:"state"`
	EpochID     string `json:"epoch_id"`
	Buffered    int    `json:"buffered"`
	LastFrameID int64  `json:"last_frame_id"`
	FPS         int    `json:"fps"`
	Clients     int    `json:"preview_clients"`
}

type Server struct {
	rec      Recorder
	opts     Options
	log      *slog.Logger
	obs      Observer
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	mu      sync.Mutex
	clients map[*client]struct{}

	httpSrv  *http.Server
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewServer(rec Recorder, options *Options) (*Server, error) {
	if rec == nil {
		return nil, errors.New("preview: nil recorder")
	}
	var opts Options
	if options != nil {
		opts = *options
	}
	if opts.FPS <= 0 {
		opts.FPS = defaultFPS
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = defaultJPEGQuality
	}
	if opts.ClientQueue <= 0 {
		opts.ClientQueue = defaultClientQueue
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	log := logging.Or(opts.Logger, "preview")

	s := &Server{
		rec:  rec,
		opts: opts,
		log:  log,
		obs:  opts.Observer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		mux:     http.NewServeMux(),
		clients: make(map[*client]struct{}),
		stop:    make(chan struct{}),
	}
	s.mux.HandleFunc("/frame.jpg", s.handleFrame)
	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/status", s.handleStatus)
	if opts.Metrics != nil {
		s.mux.Handle("/metrics", opts.Metrics)
	}
	if opts.RecordingsDir != "" {
		s.mux.Handle("/recordings/", http.StripPrefix("/recordings", NewDirectoryHandler(opts.RecordingsDir, log)))
	}

	s.wg.Add(1)
	go s.broadcast()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve serves on ln until Close.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.httpSrv = &http.Server{Handler: s.mux, ReadHeaderTimeout: 5 * time.Second}
	srv := s.httpSrv
	s.mu.Unlock()

	s.log.Info("preview server listening", "addr", ln.Addr().String())
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("preview listen %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Close stops the broadcaster, disconnects clients and shuts the HTTP
// server down.
func (s *Server) Close(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()

	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	srv := s.httpSrv
	s.mu.Unlock()
	for _, c := range clients {
		c.Close()
		c.wg.Wait()
	}
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	f, err := s.rec.CurrentFrame()
	if err != nil {
		if errors.Is(err, capture.ErrNoFrameCaptured) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	b, err := s.encode(f)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	_, _ = w.Write(b)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	last, ok := s.rec.LastFrameID()
	if !ok {
		last = -1
	}
	st := Status{
		State:       s.rec.State().String(),
		EpochID:     s.rec.EpochID(),
		Buffered:    s.rec.Buffered(),
		LastFrameID: last,
		FPS:         s.rec.FPS(),
		Clients:     s.ClientCount(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(st); err != nil {
		s.log.Debug("status write failed", "err", err)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.stop:
		http.Error(w, "preview server closed", http.StatusServiceUnavailable)
		return
	default:
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	c := newClient(s, conn, s.opts.ClientQueue)
	s.mu.Lock()
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	s.obs.PreviewClientJoined()
	s.log.Info("preview client connected", "remote", c.remote, "clients", n)

	if f, err := s.rec.CurrentFrame(); err == nil {
		if b, err := s.encode(f); err == nil {
			c.Enqueue(b)
		}
	}
	c.start()
	select {
	case <-s.stop:
		c.Close()
	default:
	}
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	n := len(s.clients)
	s.mu.Unlock()
	if ok {
		s.obs.PreviewClientLeft()
		s.log.Info("preview client disconnected", "remote", c.remote, "clients", n)
	}
}

func (s *Server) snapshot() []*client {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		out = append(out, c)
	}
	return out
}

// broadcast encodes the current frame once per tick and fans it out. A
// frame already sent is not sent again.
func (s *Server) broadcast() {
	defer s.wg.Done()
	t := time.NewTicker(time.Second / time.Duration(s.opts.FPS))
	defer t.Stop()

	var last *capture.Frame
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
		}
		clients := s.snapshot()
		if len(clients) == 0 {
			continue
		}
		f, err := s.rec.CurrentFrame()
		if err != nil || f == last {
			continue
		}
		b, err := s.encode(f)
		if err != nil {
			s.log.Warn("preview encode failed", "err", err)
			continue
		}
		last = f
		for _, c := range clients {
			c.Enqueue(b)
		}
	}
}

func (s *Server) encode(f *capture.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, f.RGBA(), &jpeg.Options{Quality: s.opts.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
