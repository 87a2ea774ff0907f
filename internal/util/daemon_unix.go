//go:build !windows

package util

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// Daemonize re-executes the current binary detached from the terminal and
// exits the parent. The child is marked via environment so it runs the
// server directly instead of daemonizing again.
func Daemonize() error {
	if IsDaemonProcess() {
		return nil
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}

	cmd := exec.Command(execPath, os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonEnvMarker+"=1")
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	// New session so the child survives the terminal closing.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon process: %w", err)
	}

	os.Exit(0)
	return nil
}
