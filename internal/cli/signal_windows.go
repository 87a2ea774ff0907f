//go:build windows

package cli

import (
	"fmt"
	"os"
)

// terminateProcess stops the server process. Windows has no reliable SIGTERM
// delivery, so this goes straight to TerminateProcess.
func terminateProcess(process *os.Process) error {
	if err := process.Kill(); err != nil {
		return fmt.Errorf("failed to kill process: %w", err)
	}
	return nil
}
