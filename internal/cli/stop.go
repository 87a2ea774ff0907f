package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/thinkgate-dev/thinkgate/internal/config"
	"github.com/thinkgate-dev/thinkgate/internal/util"
	"github.com/thinkgate-dev/thinkgate/internal/util/lock"
)

// StopCommand returns the command that stops a running proxy daemon.
func StopCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the ThinkGate proxy server",
		Long:  "Stop the running ThinkGate server gracefully. In-flight requests get a chance to finish.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(opts)
		},
	}
	return cmd
}

func runStop(opts *Options) error {
	fileLock := lock.NewFileLock(config.HomeDir())
	if !fileLock.IsLocked() {
		fmt.Println("ThinkGate is not running")
		return nil
	}

	store, err := opts.LoadStore()
	if err != nil {
		return err
	}

	fmt.Println("Stopping ThinkGate...")
	if err := stopWithLock(fileLock); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	// The OS can hold the socket briefly after the process exits.
	_ = util.WaitForPortAvailable(store.Proxy().Port, 5*time.Second)
	fmt.Println("ThinkGate stopped")
	return nil
}

// stopWithLock signals the lock holder and waits for the lock to clear,
// escalating to a kill when graceful shutdown stalls.
func stopWithLock(fileLock *lock.FileLock) error {
	pid, err := fileLock.GetPID()
	if err != nil {
		return fmt.Errorf("lock file missing or invalid: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	if err := terminateProcess(process); err != nil {
		return err
	}

	for i := 0; i < 30; i++ {
		if !fileLock.IsLocked() {
			return nil
		}
		time.Sleep(time.Second)
	}

	fmt.Println("Server did not stop gracefully, killing it...")
	if err := process.Kill(); err != nil {
		return fmt.Errorf("failed to kill process %d: %w", pid, err)
	}
	return nil
}
