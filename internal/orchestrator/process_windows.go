//go:build windows

package orchestrator

import (
	"os"
	"os/exec"
)

func setProcessGroup(*exec.Cmd) {}

// Windows has no SIGINT delivery to child processes; fall back to Kill.
func interruptGroup(cmd *exec.Cmd) error {
	if err := cmd.Process.Signal(os.Interrupt); err == nil {
		return nil
	}
	return killGroup(cmd)
}

func killGroup(cmd *exec.Cmd) error {
	err := cmd.Process.Kill()
	if err == os.ErrProcessDone {
		return ErrProcessGone
	}
	return err
}
