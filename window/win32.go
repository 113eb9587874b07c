package window

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

const user32Prelude = `$u = Add-Type -Name U32 -Namespace Deskrec -PassThru -MemberDefinition '` +
	`[DllImport("user32.dll")] public static extern IntPtr GetForegroundWindow();` +
	`[DllImport("user32.dll")] public static extern bool IsZoomed(IntPtr h);` +
	`[DllImport("user32.dll")] public static extern bool ShowWindow(IntPtr h, int n);` +
	`[DllImport("user32.dll")] public static extern bool SetForegroundWindow(IntPtr h);';`

const (
	swMaximize = 3
	swMinimize = 6
	swRestore  = 9
)

// Win32 minimizes and restores the foreground window through user32 calls
// made from PowerShell.
type Win32 struct {
	base
	hwnd      int64
	maximized bool
}

func NewWin32(ctx context.Context, opts *Options) (*Win32, error) {
	b, err := newBase("powershell", opts)
	if err != nil {
		return nil, err
	}
	out, err := b.run(ctx, "-NoProfile", "-NonInteractive", "-Command",
		user32Prelude+` $h = $u::GetForegroundWindow(); "$($h.ToInt64()) $($u::IsZoomed($h))"`)
	if err != nil {
		return nil, fmt.Errorf("powershell foreground window: %w", err)
	}
	hwnd, maximized, err := parseForeground(out)
	if err != nil {
		return nil, err
	}
	b.log.Debug("tracking active window", "hwnd", hwnd, "maximized", maximized)
	return &Win32{base: b, hwnd: hwnd, maximized: maximized}, nil
}

func parseForeground(out string) (int64, bool, error) {
	fields := strings.Fields(out)
	if len(fields) != 2 {
		return 0, false, fmt.Errorf("%w: unexpected output %q", ErrNoActiveWindow, out)
	}
	hwnd, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || hwnd == 0 {
		return 0, false, fmt.Errorf("%w: handle %q", ErrNoActiveWindow, fields[0])
	}
	return hwnd, strings.EqualFold(fields[1], "true"), nil
}

func (w *Win32) show(ctx context.Context, cmd int, foreground bool) error {
	script := user32Prelude + fmt.Sprintf(` $h = [IntPtr]%d; [void]$u::ShowWindow($h, %d);`, w.hwnd, cmd)
	if foreground {
		script += ` [void]$u::SetForegroundWindow($h);`
	}
	_, err := w.run(ctx, "-NoProfile", "-NonInteractive", "-Command", script)
	return err
}

func (w *Win32) SendToBackground(ctx context.Context) error {
	if err := w.show(ctx, swMinimize, false); err != nil {
		return fmt.Errorf("minimize window %d: %w", w.hwnd, err)
	}
	return w.wait(ctx)
}

func (w *Win32) BringToFront(ctx context.Context) error {
	cmd := swRestore
	if w.maximized {
		cmd = swMaximize
	}
	if err := w.show(ctx, cmd, true); err != nil {
		return fmt.Errorf("restore window %d: %w", w.hwnd, err)
	}
	return nil
}
