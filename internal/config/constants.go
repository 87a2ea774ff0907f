package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/thinkgate-dev/thinkgate/internal/util"
)

const (
	// ConfigDirName is the per-user data directory under $HOME.
	ConfigDirName = ".thinkgate"

	// ConfigFileName is the persisted proxy document inside the config dir.
	ConfigFileName = "proxy_config.json"

	// LogDirName holds server log files inside the config dir.
	LogDirName = "logs"

	// LogFileName is the rotating server log.
	LogFileName = "thinkgate.log"

	// EnvHome relocates the whole config dir.
	EnvHome = "THINKGATE_HOME"

	// EnvConfig overrides just the config document path.
	EnvConfig = "THINKGATE_CONFIG"

	// EnvHost overrides the listen host when the --host flag is not given.
	EnvHost = "THINKGATE_HOST"

	// RequestTimeout bounds one upstream call end to end, long enough for
	// slow reasoning models to finish streaming.
	RequestTimeout = 10 * time.Minute
)

// HomeDir returns the data directory (default ~/.thinkgate), honoring
// THINKGATE_HOME.
func HomeDir() string {
	if dir := os.Getenv(EnvHome); dir != "" {
		return dir
	}
	home, err := util.GetUserPath()
	if err != nil {
		// Home unavailable: fall back to a relative dir so the proxy still
		// starts in containers without a home directory.
		return ConfigDirName
	}
	return filepath.Join(home, ConfigDirName)
}

// DefaultConfigPath returns the config document path, honoring
// THINKGATE_CONFIG.
func DefaultConfigPath() string {
	if path := os.Getenv(EnvConfig); path != "" {
		return path
	}
	return filepath.Join(HomeDir(), ConfigFileName)
}

// LogDir returns the directory for server log files.
func LogDir() string {
	return filepath.Join(HomeDir(), LogDirName)
}

// DefaultLogFile returns the rotating server log path.
func DefaultLogFile() string {
	return filepath.Join(LogDir(), LogFileName)
}
