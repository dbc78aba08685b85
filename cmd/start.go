package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coriolis-automation/opcua-server/internal/daemon"
)

var pidFilePath string

// startCmd launches the daemon detached in the background, by
// re-executing this same binary's "serve" subcommand, and returns once
// its admin socket is reachable. Use "serve" directly to run in the
// foreground instead.
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the opcua-server daemon in the background",
	Long: `Start the opcua-server daemon as a detached background process.

If the daemon is already running (its admin socket is reachable), this
is a no-op. Use "opcua-serverctl stop" to stop it and "opcua-serverctl
serve" to run it attached to the current terminal instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := daemon.EnsureDaemonRunning(configFile, socketPath, pidFilePath); err != nil {
			return fmt.Errorf("failed to start daemon: %w", err)
		}
		fmt.Println("opcua-server daemon is running")
		return nil
	},
}

func init() {
	startCmd.Flags().StringVar(&pidFilePath, "pid-file", "/var/run/opcua-server.pid", "daemon PID file path")
}
