// Package processutil starts helper processes and collects their stderr.
package processutil

import (
	"context"
	"os/exec"
)

// Command builds a child process that does not open a console window.
func Command(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	hideWindow(cmd)
	return cmd
}
