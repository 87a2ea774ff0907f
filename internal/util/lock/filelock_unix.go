//go:build !windows

package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// FileLock enforces a single running server instance per config directory.
// The flock is released by the kernel when the process dies, so a crashed
// server never leaves a stale lock behind. A companion PID file lets other
// processes find the holder for signal-based shutdown.
type FileLock struct {
	lockFile string
	pidFile  string
	file     *os.File
}

// NewFileLock returns a lock rooted in configDir. Nothing is created until
// TryLock.
func NewFileLock(configDir string) *FileLock {
	return &FileLock{
		lockFile: filepath.Join(configDir, "thinkgate.lock"),
		pidFile:  filepath.Join(configDir, "thinkgate.pid"),
	}
}

// TryLock acquires the lock without blocking. It fails when another process
// already holds it. On success the current PID is written to the PID file.
func (fl *FileLock) TryLock() error {
	file, err := os.OpenFile(fl.lockFile, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		return fmt.Errorf("lock already held: server may already be running")
	}
	fl.file = file

	pid := os.Getpid()
	if err := os.WriteFile(fl.pidFile, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	return nil
}

// Unlock releases the lock and removes the lock and PID files. Safe to call
// when the lock was never acquired.
func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}

	_ = unix.Flock(int(fl.file.Fd()), unix.LOCK_UN)
	closeErr := fl.file.Close()
	fl.file = nil

	_ = os.Remove(fl.lockFile)
	_ = os.Remove(fl.pidFile)

	if closeErr != nil {
		return fmt.Errorf("close lock file: %w", closeErr)
	}
	return nil
}

// IsLocked reports whether another process currently holds the lock.
func (fl *FileLock) IsLocked() bool {
	file, err := os.OpenFile(fl.lockFile, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return false
	}
	defer file.Close()

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return true
	}
	_ = unix.Flock(int(file.Fd()), unix.LOCK_UN)
	return false
}

// GetLockFilePath returns the lock file path.
func (fl *FileLock) GetLockFilePath() string {
	return fl.lockFile
}

// GetPID reads the holder's PID from the PID file.
func (fl *FileLock) GetPID() (int, error) {
	data, err := os.ReadFile(fl.pidFile)
	if err != nil {
		return 0, fmt.Errorf("read PID file: %w", err)
	}

	line, _, _ := strings.Cut(strings.TrimSpace(string(data)), "\n")
	pid, err := strconv.Atoi(line)
	if err != nil {
		return 0, fmt.Errorf("invalid PID file contents: %w", err)
	}
	return pid, nil
}
