package capture

import (
	"fmt"
	"sort"
	"sync"
)

// FrameBuffer is an id-ordered, append-only store of frames plus the
// "current frame" slot used for live preview. One mutex guards both.
type FrameBuffer struct {
	mu      sync.Mutex
	frames  []*Frame
	current *Frame
	// lastStored is the id of the newest buffered frame in this epoch, -1 if none.
	lastStored int64
	// next is the id handed out by Commit. It survives Clear and is zeroed by Reset.
	next int64
}

func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{lastStored: -1}
}

// Add appends frame under id. The id must be strictly greater than the last
// buffered id.
func (b *FrameBuffer) Add(id int64, frame *Frame) error {
	if frame == nil || id < 0 {
		return fmt.Errorf("%w: id=%d", ErrFrameOrder, id)
	}
	tagged := *frame
	tagged.ID = id

	b.mu.Lock()
	defer b.mu.Unlock()

	if id <= b.lastStored {
		return fmt.Errorf("%w: id=%d last=%d", ErrFrameOrder, id, b.lastStored)
	}
	b.frames = append(b.frames, &tagged)
	b.lastStored = id
	if id >= b.next {
		b.next = id + 1
	}
	return nil
}

// Commit assigns the next id to frame, appends it and makes it the current
// frame in one critical section. It returns the stored frame.
func (b *FrameBuffer) Commit(frame *Frame) *Frame {
	tagged := *frame

	b.mu.Lock()
	defer b.mu.Unlock()

	tagged.ID = b.next
	b.next++
	b.frames = append(b.frames, &tagged)
	b.lastStored = tagged.ID
	b.current = &tagged
	return &tagged
}

// SetCurrent replaces the preview frame without buffering it.
func (b *FrameBuffer) SetCurrent(frame *Frame) {
	b.mu.Lock()
	b.current = frame
	b.mu.Unlock()
}

// Current returns the latest captured frame.
func (b *FrameBuffer) Current() (*Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return nil, ErrNoFrameCaptured
	}
	return b.current, nil
}

// Clear drops all buffered frames. Ids keep counting from where they were.
func (b *FrameBuffer) Clear() {
	b.mu.Lock()
	b.frames = nil
	b.lastStored = -1
	b.mu.Unlock()
}

// Reset drops all frames and the current frame and restarts ids at 0.
func (b *FrameBuffer) Reset() {
	b.mu.Lock()
	b.frames = nil
	b.current = nil
	b.lastStored = -1
	b.next = 0
	b.mu.Unlock()
}

// Frames returns every buffered frame with id >= start.
func (b *FrameBuffer) Frames(start int64) []*Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rangeLocked(start, -1, false)
}

// FramesBetween returns every buffered frame with start <= id <= end.
func (b *FrameBuffer) FramesBetween(start, end int64) []*Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rangeLocked(start, end, true)
}

func (b *FrameBuffer) rangeLocked(start, end int64, bounded bool) []*Frame {
	i := sort.Search(len(b.frames), func(i int) bool { return b.frames[i].ID >= start })
	out := []*Frame{}
	for ; i < len(b.frames); i++ {
		if bounded && b.frames[i].ID > end {
			break
		}
		out = append(out, b.frames[i])
	}
	return out
}

// Len returns the number of buffered frames.
func (b *FrameBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// LastID returns the id of the newest buffered frame.
func (b *FrameBuffer) LastID() (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastStored, b.lastStored >= 0
}
