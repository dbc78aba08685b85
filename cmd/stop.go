// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/coriolis-automation/opcua-server/internal/admin"
	"github.com/coriolis-automation/opcua-server/internal/daemon"
)

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the opcua-server daemon",
	Long: `Stop the opcua-server daemon gracefully.

This command sends a server_shutdown command to the running daemon via
its admin Unix Domain Socket. The daemon stops its OPC UA listener,
admin socket and metrics server and exits.`,
	Run: func(cmd *cobra.Command, args []string) {
		runStopCommand()
	},
}

func runStopCommand() {
	client := admin.NewUDSClient(socketPath, 10*time.Second)
	ctx := context.Background()

	if err := client.Ping(ctx); err != nil {
		// The daemon may be wedged badly enough that it can't service
		// JSON-RPC but its process is still alive; fall back to a
		// plain SIGTERM via its recorded PID before giving up.
		if sigErr := daemon.StopDaemon(socketPath, pidFilePath); sigErr == nil {
			fmt.Println("daemon did not respond to admin commands; sent SIGTERM instead")
			return
		}
		exitWithError("daemon is not running or socket is inaccessible", err)
	}

	resp, err := client.Shutdown(ctx)
	if err != nil {
		exitWithError("failed to send shutdown command", err)
	}

	if resp.Error != nil {
		exitWithError(fmt.Sprintf("server_shutdown failed: %s", resp.Error.Message), nil)
	}

	fmt.Println("Shutdown signal sent. Daemon is stopping.")
}

func init() {
	stopCmd.Flags().StringVar(&pidFilePath, "pid-file", "/var/run/opcua-server.pid", "daemon PID file path, used as a SIGTERM fallback if the admin socket is unreachable")
}
