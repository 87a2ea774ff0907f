package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thinkgate-dev/thinkgate/internal/auth"
	"github.com/thinkgate-dev/thinkgate/internal/config"
)

// TokenCommand returns the command that shows or issues the proxy API key.
// Keys are tg-prefixed base64 JWTs signed with the per-install secret.
func TokenCommand(opts *Options) *cobra.Command {
	var set bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Show or generate the proxy API key",
		Long: `Show the configured API key, or generate a new tg- prefixed key.
With --set the new key is written to the proxy config, after which every
/v1 request must carry 'Authorization: Bearer <key>'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(opts, set)
		},
	}

	cmd.Flags().BoolVar(&set, "set", false, "persist the generated key to the proxy config")
	return cmd
}

func runToken(opts *Options, set bool) error {
	store, err := opts.LoadStore()
	if err != nil {
		return err
	}

	if current := store.Proxy().APIKey; current != "" && !set {
		fmt.Println("Configured API key:")
		fmt.Println(current)
		fmt.Println()
		fmt.Println("Usage: Authorization: Bearer", current)
		return nil
	}

	secret, err := auth.LoadOrCreateSecret(config.HomeDir())
	if err != nil {
		return fmt.Errorf("failed to load signing secret: %w", err)
	}
	key, err := auth.NewJWTManager(secret).GenerateAPIKey("client")
	if err != nil {
		return fmt.Errorf("failed to generate API key: %w", err)
	}

	if set {
		settings := store.Proxy()
		settings.APIKey = key
		if _, err := store.UpdateProxy(settings); err != nil {
			return fmt.Errorf("failed to save API key: %w", err)
		}
		fmt.Println("API key saved to proxy config:")
		fmt.Println(key)
		fmt.Println()
		fmt.Println("Authentication is now required on /v1 endpoints.")
		fmt.Println("A running server picks the change up through the config watcher.")
		return nil
	}

	fmt.Println("Generated API key (not saved):")
	fmt.Println(key)
	fmt.Println()
	fmt.Println("Run 'thinkgate token --set' to enable authentication with a new key.")
	return nil
}
