package util

import "os"

// daemonEnvMarker marks a child process as the detached daemon so the
// re-executed binary skips daemonizing again.
const daemonEnvMarker = "_THINKGATE_DAEMON"

// IsDaemonProcess reports whether this process was started by Daemonize.
func IsDaemonProcess() bool {
	return os.Getenv(daemonEnvMarker) == "1"
}
