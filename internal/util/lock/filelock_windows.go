//go:build windows

package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/windows"
)

// FileLock enforces a single running server instance per config directory.
// LockFileEx is released by the OS when the process dies, so a crashed
// server never leaves a stale lock behind. The PID lives in a companion
// file because an exclusively locked file cannot be read by other
// processes on Windows.
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
	file, err := os.OpenFile(fl.lockFile, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := lockHandle(file); err != nil {
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

	unlockHandle(fl.file)
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
	file, err := os.OpenFile(fl.lockFile, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return false
	}
	defer file.Close()

	if err := lockHandle(file); err != nil {
		return true
	}
	unlockHandle(file)
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

func lockHandle(file *os.File) error {
	var overlapped windows.Overlapped
	flag := uint32(windows.LOCKFILE_EXCLUSIVE_LOCK | windows.LOCKFILE_FAIL_IMMEDIATELY)
	return windows.LockFileEx(windows.Handle(file.Fd()), flag, 0, 0xFFFFFFFF, 0xFFFFFFFF, &overlapped)
}

func unlockHandle(file *os.File) {
	var overlapped windows.Overlapped
	_ = windows.UnlockFileEx(windows.Handle(file.Fd()), 0, 0xFFFFFFFF, 0xFFFFFFFF, &overlapped)
}
