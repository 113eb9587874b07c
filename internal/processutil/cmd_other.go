//go:build !windows

package processutil

import "os/exec"

func hideWindow(*exec.Cmd) {}
