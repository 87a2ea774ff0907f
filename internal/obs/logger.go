// Package obs wires process-wide logging and the OpenTelemetry metrics
// pipeline.
package obs

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// RotationConfig holds log rotation settings.
type RotationConfig struct {
	Filename   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// DefaultRotation returns the rotation settings used for the proxy log.
func DefaultRotation(logFile string) *RotationConfig {
	return &RotationConfig{
		Filename:   logFile,
		MaxSize:    10,
		MaxBackups: 10,
		MaxAge:     30,
		Compress:   true,
	}
}

// NewRotatingWriter creates a lumberjack writer for the given configuration.
func NewRotatingWriter(cfg *RotationConfig) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
}

// SetupLogging configures the process-wide logrus logger. With a log file the
// output rotates; fileOnly drops the stdout tee for daemon mode.
func SetupLogging(verbose bool, logFile string, fileOnly bool) {
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}

	if logFile == "" {
		return
	}
	writer := NewRotatingWriter(DefaultRotation(logFile))
	if fileOnly {
		logrus.SetOutput(writer)
		return
	}
	logrus.SetOutput(io.MultiWriter(os.Stdout, writer))
}
