//go:build !windows

package cli

import (
	"fmt"
	"os"
	"syscall"
)

// terminateProcess asks the server to shut down gracefully.
func terminateProcess(process *os.Process) error {
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal process: %w", err)
	}
	return nil
}
