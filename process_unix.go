//go:build !windows

package main

import (
	"os/exec"
	"syscall"
)

// configureProcess puts the server in its own process group so a forced stop
// also reaches any processes a launcher script started.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
