package processutil

import (
	"bytes"
	"strings"
	"sync"
)

// maxTailBuffer caps retained stderr; long recordings would otherwise grow it forever.
const maxTailBuffer = 64 << 10

// TailBuffer collects subprocess stderr and keeps the most recent output.
type TailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *TailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, err := b.buf.Write(p)
	if b.buf.Len() > maxTailBuffer {
		keep := b.buf.Bytes()[b.buf.Len()-maxTailBuffer/2:]
		trimmed := append([]byte(nil), keep...)
		b.buf.Reset()
		b.buf.Write(trimmed)
	}
	return n, err
}

// Tail returns at most the last n bytes of trimmed output.
func (b *TailBuffer) Tail(n int) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := strings.TrimSpace(b.buf.String())
	if s == "" {
		return "no ffmpeg stderr output"
	}
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
