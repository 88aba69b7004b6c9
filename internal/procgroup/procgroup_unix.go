//go:build unix

// Package procgroup keeps helper processes out of the terminal's foreground
// process group so a Ctrl-C aimed at scribe does not reach them directly.
package procgroup

import (
	"os/exec"
	"syscall"
)

// Isolate makes cmd start as the leader of a new process group. It must be
// called before cmd is started.
func Isolate(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}
