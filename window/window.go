// Package window hides the recording harness's own window while an epoch is
// captured and restores it afterwards.
package window

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"agentstudio.dev/deskrec/internal/logging"
	"agentstudio.dev/deskrec/internal/processutil"
)

var (
	// ErrMissingDependency is returned by constructors when the platform tool
	// is not installed.
	ErrMissingDependency = errors.New("window control tool is not installed")
	ErrNoActiveWindow    = errors.New("no active window found")
	ErrUnknownKind       = errors.New("unknown window controller kind")
)

const (
	defaultSettle         = time.Second
	defaultCommandTimeout = 5 * time.Second
)

// Controller toggles the visibility of one window.
type Controller interface {
	BringToFront(ctx context.Context) error
	SendToBackground(ctx context.Context) error
}

// Kind selects a Controller implementation.
type Kind string

const (
	KindNone        Kind = "none"
	KindXdotool     Kind = "xdotool"
	KindAppleScript Kind = "applescript"
	KindWin32       Kind = "win32"
	KindAuto        Kind = "auto"
)

// ResolveKind maps KindAuto to the controller for goos.
func ResolveKind(kind Kind, goos string) Kind {
	if kind != KindAuto && kind != "" {
		return kind
	}
	switch goos {
	case "linux":
		return KindXdotool
	case "darwin":
		return KindAppleScript
	case "windows":
		return KindWin32
	default:
		return KindNone
	}
}

// Runner executes external tools.
type Runner interface {
	LookPath(file string) (string, error)
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs tools with os/exec.
type ExecRunner struct{}

func (ExecRunner) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

func (ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := processutil.Command(ctx, name, args...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return out, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return out, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

type Options struct {
	Runner Runner
	// Settle is the pause after SendToBackground so the desktop can repaint.
	// Zero means 1s, negative disables it.
	Settle time.Duration
	// CommandTimeout bounds each tool invocation. Default 5s.
	CommandTimeout time.Duration
	Logger         *slog.Logger
}

type base struct {
	runner  Runner
	tool    string
	settle  time.Duration
	timeout time.Duration
	log     *slog.Logger
}

func newBase(tool string, opts *Options) (base, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.Runner == nil {
		o.Runner = ExecRunner{}
	}
	if o.Settle == 0 {
		o.Settle = defaultSettle
	}
	if o.Settle < 0 {
		o.Settle = 0
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = defaultCommandTimeout
	}
	b := base{
		runner:  o.Runner,
		settle:  o.Settle,
		timeout: o.CommandTimeout,
		log:     logging.Or(o.Logger, "window"),
	}
	if tool == "" {
		return b, nil
	}
	path, err := o.Runner.LookPath(tool)
	if err != nil {
		return b, fmt.Errorf("%w: %s: %v", ErrMissingDependency, tool, err)
	}
	b.tool = path
	return b, nil
}

func (b base) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	out, err := b.runner.Output(ctx, b.tool, args...)
	return strings.TrimSpace(string(out)), err
}

func (b base) wait(ctx context.Context) error {
	if b.settle <= 0 {
		return nil
	}
	t := time.NewTimer(b.settle)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// New builds the controller for kind. KindAuto resolves against the
// running OS. Tool-based controllers capture the currently active window.
func New(ctx context.Context, kind Kind, opts *Options) (Controller, error) {
	switch ResolveKind(kind, runtime.GOOS) {
	case KindNone:
		return Noop{}, nil
	case KindXdotool:
		return NewXdotool(ctx, opts)
	case KindAppleScript:
		return NewAppleScript(ctx, opts)
	case KindWin32:
		return NewWin32(ctx, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// Noop is used for remote and headless targets.
type Noop struct{}

func (Noop) BringToFront(context.Context) error { return nil }

func (Noop) SendToBackground(context.Context) error { return nil }
