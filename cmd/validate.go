// Package cmd implements CLI commands.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coriolis-automation/opcua-server/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a server configuration file",
	Long: `Validate a server configuration file without starting the daemon.

This is useful for pre-checking configuration before deploying it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidateCommand()
	},
}

func runValidateCommand() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}

	fmt.Printf("VALID: %s (%s) — %d endpoint(s), max_sessions=%d\n",
		cfg.ApplicationURI,
		cfg.ProductURI,
		len(cfg.Endpoints),
		cfg.Limits.MaxSessions,
	)
	for _, ep := range cfg.Endpoints {
		fmt.Printf("  - %s [%s/%s] tokens=%v\n", ep.URL, ep.SecurityPolicy, ep.SecurityMode, ep.UserTokenTypes)
	}
	return nil
}
