package window

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentstudio.dev/deskrec/internal/logging"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	mu      sync.Mutex
	missing map[string]bool
	outputs map[string]string
	fail    error
	calls   []call
}

func (r *fakeRunner) LookPath(file string) (string, error) {
	if r.missing[file] {
		return "", errors.New("executable file not found in $PATH")
	}
	return "/usr/bin/" + file, nil
}

func (r *fakeRunner) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{name: name, args: args})
	if r.fail != nil && len(r.calls) > 1 {
		return nil, r.fail
	}
	if len(args) > 0 {
		if out, ok := r.outputs[args[0]]; ok {
			return []byte(out), nil
		}
	}
	return []byte(r.outputs[""]), nil
}

func (r *fakeRunner) last() call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

func testOptions(r Runner) *Options {
	return &Options{Runner: r, Settle: -1, Logger: logging.Discard()}
}

func TestMissingDependencyAtConstruction(t *testing.T) {
	r := &fakeRunner{missing: map[string]bool{"xdotool": true, "osascript": true, "powershell": true}}
	ctx := context.Background()

	_, err := NewXdotool(ctx, testOptions(r))
	assert.ErrorIs(t, err, ErrMissingDependency)
	_, err = NewAppleScript(ctx, testOptions(r))
	assert.ErrorIs(t, err, ErrMissingDependency)
	_, err = NewWin32(ctx, testOptions(r))
	assert.ErrorIs(t, err, ErrMissingDependency)
	assert.Empty(t, r.calls)
}

func TestXdotool(t *testing.T) {
	r := &fakeRunner{outputs: map[string]string{"getactivewindow": "83886087\n"}}
	x, err := NewXdotool(context.Background(), testOptions(r))
	require.NoError(t, err)
	assert.Equal(t, "83886087", x.Window())

	require.NoError(t, x.SendToBackground(context.Background()))
	assert.Equal(t, call{name: "/usr/bin/xdotool", args: []string{"windowminimize", "83886087"}}, r.last())

	require.NoError(t, x.BringToFront(context.Background()))
	assert.Equal(t, call{name: "/usr/bin/xdotool", args: []string{"windowactivate", "83886087"}}, r.last())
}

func TestXdotoolNoActiveWindow(t *testing.T) {
	r := &fakeRunner{outputs: map[string]string{}}
	_, err := NewXdotool(context.Background(), testOptions(r))
	assert.ErrorIs(t, err, ErrNoActiveWindow)
}

func TestAppleScriptMapsElectron(t *testing.T) {
	r := &fakeRunner{outputs: map[string]string{"-e": "Electron"}}
	a, err := NewAppleScript(context.Background(), testOptions(r))
	require.NoError(t, err)
	assert.Equal(t, "Code", a.Application())

	require.NoError(t, a.SendToBackground(context.Background()))
	got := r.last()
	assert.Equal(t, "-e", got.args[0])
	assert.Equal(t, `tell application "System Events" to set visible of process "Code" to false`, got.args[1])

	require.NoError(t, a.BringToFront(context.Background()))
	assert.Equal(t, `tell application "Code" to activate`, r.last().args[1])
}

func TestQuoteAppleScript(t *testing.T) {
	assert.Equal(t, `"My \"App\""`, quoteAppleScript(`My "App"`))
	assert.Equal(t, `"a\\b"`, quoteAppleScript(`a\b`))
}

func TestWin32(t *testing.T) {
	r := &fakeRunner{outputs: map[string]string{"-NoProfile": "132456 True"}}
	w, err := NewWin32(context.Background(), testOptions(r))
	require.NoError(t, err)
	assert.Equal(t, int64(132456), w.hwnd)
	assert.True(t, w.maximized)

	require.NoError(t, w.SendToBackground(context.Background()))
	script := r.last().args[3]
	assert.Contains(t, script, "[IntPtr]132456")
	assert.Contains(t, script, "ShowWindow($h, 6)")

	require.NoError(t, w.BringToFront(context.Background()))
	script = r.last().args[3]
	assert.Contains(t, script, "ShowWindow($h, 3)")
	assert.True(t, strings.Contains(script, "SetForegroundWindow"))
}

func TestParseForeground(t *testing.T) {
	_, _, err := parseForeground("0 False")
	assert.ErrorIs(t, err, ErrNoActiveWindow)
	_, _, err = parseForeground("garbage")
	assert.ErrorIs(t, err, ErrNoActiveWindow)

	h, maximized, err := parseForeground("42 False")
	require.NoError(t, err)
	assert.Equal(t, int64(42), h)
	assert.False(t, maximized)
}

func TestToolFailureIsReturned(t *testing.T) {
	r := &fakeRunner{outputs: map[string]string{"getactivewindow": "7"}, fail: errors.New("exit status 1")}
	x, err := NewXdotool(context.Background(), testOptions(r))
	require.NoError(t, err)
	assert.Error(t, x.SendToBackground(context.Background()))
}

func TestSettleDelayHonoursContext(t *testing.T) {
	r := &fakeRunner{outputs: map[string]string{"getactivewindow": "7"}}
	x, err := NewXdotool(context.Background(), &Options{Runner: r, Settle: time.Hour, Logger: logging.Discard()})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, x.SendToBackground(ctx), context.DeadlineExceeded)
}

func TestResolveKind(t *testing.T) {
	assert.Equal(t, KindXdotool, ResolveKind(KindAuto, "linux"))
	assert.Equal(t, KindAppleScript, ResolveKind(KindAuto, "darwin"))
	assert.Equal(t, KindWin32, ResolveKind("", "windows"))
	assert.Equal(t, KindNone, ResolveKind(KindAuto, "plan9"))
	assert.Equal(t, KindNone, ResolveKind(KindNone, "linux"))
}

func TestNewNoneAndUnknown(t *testing.T) {
	c, err := New(context.Background(), KindNone, nil)
	require.NoError(t, err)
	assert.NoError(t, c.SendToBackground(context.Background()))
	assert.NoError(t, c.BringToFront(context.Background()))

	_, err = New(context.Background(), "kwin", nil)
	assert.ErrorIs(t, err, ErrUnknownKind)
}
