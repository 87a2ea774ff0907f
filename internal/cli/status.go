package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/thinkgate-dev/thinkgate/internal/config"
	"github.com/thinkgate-dev/thinkgate/internal/util/lock"
)

// StatusCommand returns the command that reports whether the proxy is
// running and summarizes its configuration.
func StatusCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show server status and configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts)
		},
	}
	return cmd
}

func runStatus(opts *Options) error {
	store, err := opts.LoadStore()
	if err != nil {
		return err
	}

	fileLock := lock.NewFileLock(config.HomeDir())
	running := fileLock.IsLocked()
	port := store.Proxy().Port

	fmt.Println("=== ThinkGate Status ===")
	if running {
		fmt.Println("Server: running")
		fmt.Printf("Port: %d\n", port)
		if pid, err := fileLock.GetPID(); err == nil {
			fmt.Printf("PID: %d\n", pid)
		}
		if upstream, ok := probeHealth(port); ok {
			fmt.Printf("Health: ok (default upstream %s)\n", upstream)
		} else {
			fmt.Println("Health: not responding")
		}
	} else {
		fmt.Println("Server: stopped")
		fmt.Printf("Configured port: %d\n", port)
	}

	if store.Proxy().APIKey != "" {
		fmt.Printf("\nAPI key: %s\n", config.MaskSecret(store.Proxy().APIKey))
	} else {
		fmt.Println("\nAPI key: not set (authentication disabled)")
	}

	profiles := store.Profiles()
	defaultID := store.Snapshot().DefaultProfile
	fmt.Printf("\nProfiles: %d\n", len(profiles))
	for _, p := range profiles {
		marker := " "
		if p.ID == defaultID {
			marker = "*"
		}
		state := "enabled"
		if !p.Enabled {
			state = "disabled"
		}
		fmt.Printf("  %s %s [%s] %v -> %s (%s)\n",
			marker, p.Name, state, p.ModelPatterns, p.Upstream.BaseURL, p.Upstream.APIFormat)
	}
	return nil
}

// probeHealth asks the local server for its health document.
func probeHealth(port int) (string, bool) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", false
	}

	var health struct {
		Status   string `json:"status"`
		Upstream string `json:"upstream"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return "", false
	}
	return health.Upstream, health.Status == "ok"
}
