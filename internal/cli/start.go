package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/thinkgate-dev/thinkgate/internal/config"
	"github.com/thinkgate-dev/thinkgate/internal/obs"
	"github.com/thinkgate-dev/thinkgate/internal/record"
	"github.com/thinkgate-dev/thinkgate/internal/server"
	"github.com/thinkgate-dev/thinkgate/internal/server/middleware"
	"github.com/thinkgate-dev/thinkgate/internal/util"
	"github.com/thinkgate-dev/thinkgate/internal/util/lock"
)

const shutdownTimeout = 10 * time.Second

type startFlags struct {
	port    int
	host    string
	daemon  bool
	debug   bool
	logFile string
}

func addStartFlags(cmd *cobra.Command, flags *startFlags) {
	cmd.Flags().IntVarP(&flags.port, "port", "p", 0, "listen port (default: from config)")
	cmd.Flags().StringVar(&flags.host, "host", "", "listen host (default: THINKGATE_HOST or 127.0.0.1)")
	cmd.Flags().BoolVarP(&flags.daemon, "daemon", "d", false, "run in the background")
	cmd.Flags().BoolVar(&flags.debug, "debug", false, "debug logging plus request capture")
	cmd.Flags().StringVar(&flags.logFile, "log-file", "", "log file path (default: ~/.thinkgate/logs/thinkgate.log)")
}

// StartCommand returns the command that runs the proxy server, in the
// foreground by default or detached with --daemon.
func StartCommand(opts *Options) *cobra.Command {
	var flags startFlags

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the ThinkGate proxy server",
		Long: `Start the ThinkGate HTTP proxy. Point any OpenAI-compatible client at it
and it relays chat completions to the configured upstreams, stripping
chain-of-thought from responses and republishing it on /v1/thinking/stream.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(opts, flags)
		},
	}

	addStartFlags(cmd, &flags)
	return cmd
}

func runStart(opts *Options, flags startFlags) error {
	store, err := opts.LoadStore()
	if err != nil {
		return err
	}

	port := flags.port
	if port == 0 {
		port = store.Proxy().Port
	}
	host := flags.host
	if host == "" {
		host = os.Getenv(config.EnvHost)
	}
	if host == "" {
		host = "127.0.0.1"
	}

	logFile := flags.logFile
	if logFile == "" {
		logFile = config.DefaultLogFile()
	}
	obs.SetupLogging(opts.Verbose || flags.debug, logFile, flags.daemon && util.IsDaemonProcess())

	if flags.daemon && !util.IsDaemonProcess() {
		fmt.Printf("Starting ThinkGate in the background on %s:%d\n", host, port)
		fmt.Printf("Logging to: %s\n", logFile)
		fmt.Println("Use 'thinkgate stop' to stop it.")
		if err := util.Daemonize(); err != nil {
			return fmt.Errorf("failed to daemonize: %w", err)
		}
		// Daemonize exits the parent; only the detached child gets here.
	}

	fileLock := lock.NewFileLock(config.HomeDir())
	if fileLock.IsLocked() {
		fmt.Printf("ThinkGate is already running on port %d\n", store.Proxy().Port)
		fmt.Println("Tip: use 'thinkgate stop' to stop it first")
		return nil
	}
	if !util.IsPortAvailable(port) {
		return fmt.Errorf("port %d is already in use", port)
	}
	if err := fileLock.TryLock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer fileLock.Unlock()

	// Supporting services degrade quietly: a proxy that cannot persist
	// records or export metrics still proxies.
	records, err := record.NewStore(config.HomeDir())
	if err != nil {
		logrus.WithError(err).Warn("request records disabled")
		records = nil
	} else {
		defer records.Close()
	}

	ctx := context.Background()
	meter, err := obs.NewMeter(ctx, obs.DefaultMeterConfig(), records)
	if err != nil {
		logrus.WithError(err).Warn("metrics disabled")
		meter = nil
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = meter.Shutdown(shutdownCtx)
		}()
	}

	var capture *middleware.Capture
	if flags.debug {
		capture = middleware.NewCapture(filepath.Join(config.LogDir(), "capture.log"), 50)
		if err := capture.Enable(); err != nil {
			logrus.WithError(err).Warn("request capture disabled")
			capture = nil
		} else {
			defer capture.Disable()
		}
	}

	watcher, err := config.NewWatcher(store)
	if err != nil {
		logrus.WithError(err).Warn("config hot reload disabled")
	} else {
		if err := watcher.Start(); err != nil {
			logrus.WithError(err).Warn("config hot reload disabled")
		} else {
			defer watcher.Stop()
		}
	}

	srv := server.New(store,
		server.WithHost(host),
		server.WithPort(port),
		server.WithRecordStore(records),
		server.WithMetrics(meter.Metrics()),
		server.WithCapture(capture),
	)
	if err := srv.Start(); err != nil {
		return err
	}

	printEndpoints(host, srv.Port(), store)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	logrus.WithField("signal", received.String()).Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Stop(stopCtx)
}

func printEndpoints(host string, port int, store *config.Store) {
	display := util.ResolveHost(host)
	fmt.Printf("ThinkGate listening on %s:%d\n", display, port)
	fmt.Println("\nEndpoints:")
	fmt.Printf("  Chat API:        http://%s:%d/v1/chat/completions\n", display, port)
	fmt.Printf("  Thinking stream: http://%s:%d/v1/thinking/stream\n", display, port)
	fmt.Printf("  Config API:      http://%s:%d/v1/config\n", display, port)

	if store.Proxy().APIKey != "" {
		fmt.Println("\nAuthentication is enabled; send 'Authorization: Bearer <key>'.")
	}
	if profile, ok := store.DefaultProfile(); ok {
		fmt.Printf("\nDefault upstream: %s (%s)\n", profile.Upstream.BaseURL, profile.Upstream.APIFormat)
	}
}
