// Package cli implements the thinkgate command tree: starting and stopping
// the proxy daemon, checking its status, and issuing API keys.
package cli

import (
	"github.com/thinkgate-dev/thinkgate/internal/config"
)

// Options carries the flags shared by every command.
type Options struct {
	// ConfigPath overrides the proxy config document location. Empty falls
	// back to THINKGATE_CONFIG, then ~/.thinkgate/proxy_config.json.
	ConfigPath string

	// Verbose enables debug-level logging.
	Verbose bool
}

// ResolveConfigPath returns the effective config document path.
func (o *Options) ResolveConfigPath() string {
	if o.ConfigPath != "" {
		return o.ConfigPath
	}
	return config.DefaultConfigPath()
}

// LoadStore opens the config document, seeding a default one on first run.
func (o *Options) LoadStore() (*config.Store, error) {
	store := config.NewStore(o.ResolveConfigPath())
	if err := store.Load(); err != nil {
		return nil, &UsageError{Err: err}
	}
	return store, nil
}

// UsageError marks failures caused by configuration or invocation rather
// than runtime faults. main exits with status 2 for these instead of 1.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string {
	return e.Err.Error()
}

func (e *UsageError) Unwrap() error {
	return e.Err
}
