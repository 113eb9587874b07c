package window

import (
	"context"
	"fmt"
)

// Xdotool minimizes and re-activates the X11 window that was active at
// construction.
type Xdotool struct {
	base
	id string
}

func NewXdotool(ctx context.Context, opts *Options) (*Xdotool, error) {
	b, err := newBase("xdotool", opts)
	if err != nil {
		return nil, err
	}
	id, err := b.run(ctx, "getactivewindow")
	if err != nil {
		return nil, fmt.Errorf("xdotool getactivewindow: %w", err)
	}
	if id == "" {
		return nil, ErrNoActiveWindow
	}
	b.log.Debug("tracking active window", "window", id)
	return &Xdotool{base: b, id: id}, nil
}

func (x *Xdotool) Window() string { return x.id }

func (x *Xdotool) SendToBackground(ctx context.Context) error {
	if _, err := x.run(ctx, "windowminimize", x.id); err != nil {
		return fmt.Errorf("xdotool windowminimize %s: %w", x.id, err)
	}
	return x.wait(ctx)
}

func (x *Xdotool) BringToFront(ctx context.Context) error {
	if _, err := x.run(ctx, "windowactivate", x.id); err != nil {
		return fmt.Errorf("xdotool windowactivate %s: %w", x.id, err)
	}
	return nil
}
