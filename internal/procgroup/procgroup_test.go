//go:build unix

package procgroup

import (
	"os/exec"
	"syscall"
	"testing"
)

func TestIsolateStartsNewProcessGroup(t *testing.T) {
	cmd := exec.Command("sleep", "5")
	Isolate(cmd)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})

	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		t.Fatalf("getpgid: %v", err)
	}
	if pgid == syscall.Getpgrp() {
		t.Fatalf("child shares the parent process group %d", pgid)
	}
	if pgid != cmd.Process.Pid {
		t.Fatalf("expected child to lead its group, pgid=%d pid=%d", pgid, cmd.Process.Pid)
	}
}

func TestIsolateKeepsExistingAttributes(t *testing.T) {
	cmd := exec.Command("true")
	cmd.SysProcAttr = &syscall.SysProcAttr{Noctty: true}
	Isolate(cmd)
	if !cmd.SysProcAttr.Setpgid || !cmd.SysProcAttr.Noctty {
		t.Fatalf("unexpected attributes %+v", cmd.SysProcAttr)
	}
}
