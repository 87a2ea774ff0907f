package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/thinkgate-dev/thinkgate/internal/cli"
)

// Build information variables, set by the compiler via -ldflags.
var (
	version   = "dev"
	gitCommit = "unknown"
	buildTime = "unknown"
)

var opts = &cli.Options{}

var rootCmd = &cobra.Command{
	Use:   "thinkgate",
	Short: "ThinkGate - local LLM proxy that strips and re-routes chain-of-thought",
	Long: `ThinkGate is a local reverse proxy between OpenAI-compatible clients and
heterogeneous LLM upstreams. It removes <think> chains-of-thought from
responses before they reach the client and republishes them on a separate
diagnostic stream, while profiles route model names to the right upstream
and credentials.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A .env beside the working directory supplies upstream keys and
		// THINKGATE_* overrides without touching the shell profile.
		_ = godotenv.Load()
		if opts.Verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config document path (default: ~/.thinkgate/proxy_config.json)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ThinkGate\n")
			fmt.Printf("Version:    %s\n", version)
			fmt.Printf("Git Commit: %s\n", gitCommit)
			fmt.Printf("Build Time: %s\n", buildTime)
		},
	}
	rootCmd.AddCommand(versionCmd)

	rootCmd.AddCommand(cli.StartCommand(opts))
	rootCmd.AddCommand(cli.StopCommand(opts))
	rootCmd.AddCommand(cli.StatusCommand(opts))
	rootCmd.AddCommand(cli.TokenCommand(opts))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var usageErr *cli.UsageError
		if errors.As(err, &usageErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
