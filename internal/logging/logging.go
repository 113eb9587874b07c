// Package logging builds the slog loggers used across deskrec.
//
// DESKREC_DEBUG=1 lowers the level to debug. DESKREC_DEBUG_FILE=<path>
// redirects output to an append-only file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	debugEnabledOnce sync.Once
	debugEnabledFlag bool

	outputOnce sync.Once
	output     io.Writer = os.Stderr
)

// DebugEnabled reports whether DESKREC_DEBUG=1 is set.
func DebugEnabled() bool {
	debugEnabledOnce.Do(func() {
		debugEnabledFlag = strings.TrimSpace(os.Getenv("DESKREC_DEBUG")) == "1"
	})
	return debugEnabledFlag
}

// Output returns the process-wide log destination.
func Output() io.Writer {
	outputOnce.Do(func() {
		p := strings.TrimSpace(os.Getenv("DESKREC_DEBUG_FILE"))
		if p == "" {
			return
		}
		f, err := os.OpenFile(p, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "deskrec debug log open failed: %v\n", err)
			return
		}
		output = f
	})
	return output
}

// New returns a text logger tagged with component.
func New(component string) *slog.Logger {
	return NewWithWriter(Output(), component)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, component string) *slog.Logger {
	level := slog.LevelInfo
	if DebugEnabled() {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("component", component)
}

// Or returns l, or a fresh component logger when l is nil.
func Or(l *slog.Logger, component string) *slog.Logger {
	if l != nil {
		return l.With("component", component)
	}
	return New(component)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ShouldLog reports whether at least period has passed since the last time it
// returned true for last. Safe for concurrent callers.
func ShouldLog(last *atomic.Int64, period time.Duration) bool {
	if last == nil || period <= 0 {
		return true
	}

	now := time.Now().UnixNano()
	for {
		prev := last.Load()
		if prev != 0 && time.Duration(now-prev) < period {
			return false
		}
		if last.CompareAndSwap(prev, now) {
			return true
		}
	}
}
