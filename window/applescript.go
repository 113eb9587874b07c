package window

import (
	"context"
	"fmt"
	"strings"
)

const frontmostScript = `tell application "System Events" to get name of first application process whose frontmost is true`

// AppleScript hides and re-activates the macOS application that was
// frontmost at construction.
type AppleScript struct {
	base
	app string
}

func NewAppleScript(ctx context.Context, opts *Options) (*AppleScript, error) {
	b, err := newBase("osascript", opts)
	if err != nil {
		return nil, err
	}
	name, err := b.run(ctx, "-e", frontmostScript)
	if err != nil {
		return nil, fmt.Errorf("osascript frontmost: %w", err)
	}
	if name == "" {
		return nil, ErrNoActiveWindow
	}
	app := applicationFor(name)
	if app != name {
		b.log.Debug("mapped frontmost process", "process", name, "application", app)
	}
	return &AppleScript{base: b, app: app}, nil
}

// applicationFor maps process names to the application name AppleScript
// expects. Electron hosts VS Code.
func applicationFor(process string) string {
	if process == "Electron" {
		return "Code"
	}
	return process
}

func quoteAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

func (a *AppleScript) Application() string { return a.app }

func (a *AppleScript) SendToBackground(ctx context.Context) error {
	script := `tell application "System Events" to set visible of process ` + quoteAppleScript(a.app) + ` to false`
	if _, err := a.run(ctx, "-e", script); err != nil {
		return fmt.Errorf("hide %s: %w", a.app, err)
	}
	return a.wait(ctx)
}

func (a *AppleScript) BringToFront(ctx context.Context) error {
	script := `tell application ` + quoteAppleScript(a.app) + ` to activate`
	if _, err := a.run(ctx, "-e", script); err != nil {
		return fmt.Errorf("activate %s: %w", a.app, err)
	}
	return nil
}
