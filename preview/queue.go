package preview

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"agentstudio.dev/deskrec/internal/logging"
)

const writeTimeout = 5 * time.Second

// client owns one websocket connection. Frames go through a bounded queue
// that drops the oldest entry when full so a slow client never blocks the
// broadcaster.
type client struct {
	srv    *Server
	conn   *websocket.Conn
	remote string

	queue chan []byte
	done  chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup

	lastSlowLog atomic.Int64
	lastDropLog atomic.Int64
	dropped     atomic.Uint64
}

func newClient(srv *Server, conn *websocket.Conn, queueSize int) *client {
	return &client{
		srv:    srv,
		conn:   conn,
		remote: conn.RemoteAddr().String(),
		queue:  make(chan []byte, queueSize),
		done:   make(chan struct{}),
	}
}

func (c *client) start() {
	c.wg.Add(2)
	go c.writeLoop()
	go c.readLoop()
}

func (c *client) Enqueue(frame []byte) {
	if len(frame) == 0 {
		return
	}
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.queue <- frame:
		return
	default:
	}

	select {
	case <-c.queue:
		c.drop()
	default:
	}

	select {
	case c.queue <- frame:
	default:
		c.drop()
	}
}

func (c *client) drop() {
	total := c.dropped.Add(1)
	c.srv.obs.PreviewFrameDropped()
	if logging.ShouldLog(&c.lastDropLog, time.Second) {
		c.srv.log.Debug("preview frame dropped",
			"remote", c.remote,
			"total", total,
			"queue", len(c.queue),
		)
	}
}

// Close stops both loops and closes the connection. Safe to call from
// either loop.
func (c *client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.srv.removeClient(c)
	})
}

func (c *client) writeLoop() {
	defer c.wg.Done()
	defer c.Close()

	for {
		select {
		case <-c.done:
			return
		case b := <-c.queue:
			start := time.Now()
			_ = c.conn.SetWriteDeadline(start.Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
				c.srv.log.Debug("preview write failed", "remote", c.remote, "err", err)
				return
			}
			c.srv.obs.PreviewFrameSent()
			d := time.Since(start)
			if d > 50*time.Millisecond && logging.ShouldLog(&c.lastSlowLog, time.Second) {
				c.srv.log.Debug("slow preview write",
					"remote", c.remote,
					"duration", d,
					"bytes", len(b),
					"queue", len(c.queue),
				)
			}
		}
	}
}

// readLoop discards client messages and notices disconnects.
func (c *client) readLoop() {
	defer c.wg.Done()
	defer c.Close()
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			return
		}
	}
}
