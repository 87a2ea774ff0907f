package util

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// IsPortAvailable reports whether a TCP port can currently be bound.
func IsPortAvailable(port int) bool {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return false
	}
	listener.Close()
	return true
}

// GetAvailablePort returns the first bindable port in [min, max].
func GetAvailablePort(min, max int) (int, error) {
	for port := min; port <= max; port++ {
		if IsPortAvailable(port) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no available port in range [%d, %d]", min, max)
}

// WaitForPortAvailable polls until port can be bound or timeout elapses.
// Used after stopping a previous instance, when the OS may briefly hold the
// socket in TIME_WAIT.
func WaitForPortAvailable(port int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if IsPortAvailable(port) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("port %d not available after %v", port, timeout)
}
