//go:build !unix

// Package procgroup keeps helper processes out of the terminal's foreground
// process group so a Ctrl-C aimed at scribe does not reach them directly.
package procgroup

import "os/exec"

// Isolate is a no-op where process groups are not available.
func Isolate(*exec.Cmd) {}
