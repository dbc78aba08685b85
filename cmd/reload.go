// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/coriolis-automation/opcua-server/internal/admin"
)

// reloadCmd represents the reload command
var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the opcua-server daemon configuration",
	Long: `Reload the configuration of the opcua-server daemon.

This command sends a config_reload command to the running daemon via
its admin Unix Domain Socket. Only logging and the trust store are
hot-reloaded; changes to endpoints or limits require a daemon restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := admin.NewUDSClient(socketPath, 10*time.Second)
		return runReload(cmd.Context(), client, cmd.OutOrStdout())
	},
}

// configReloader is the subset of admin.UDSClient runReload needs,
// narrowed so tests can inject a mock.
type configReloader interface {
	ConfigReload(ctx context.Context) (*admin.Response, error)
}

func runReload(ctx context.Context, client configReloader, out io.Writer) error {
	resp, err := client.ConfigReload(ctx)
	if err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("failed to reload: %s", resp.Error.Message)
	}
	fmt.Fprintln(out, "✓ Configuration reloaded successfully")
	return nil
}
