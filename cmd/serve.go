package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/coriolis-automation/opcua-server/internal/daemon"
)

// serveCmd runs the opcua-server daemon in the foreground.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the opcua-server daemon in the foreground",
	Long: `Run the opcua-server daemon process in the foreground.

The daemon will:
  1. Load configuration from the config file
  2. Initialize logging and the metrics server
  3. Start the OPC UA TCP listener for each configured endpoint
  4. Start the admin JSON-RPC-over-UDS control socket
  5. Handle signals for graceful shutdown (SIGTERM, SIGINT) and
     configuration reload (SIGHUP)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	d, err := daemon.New(configFile)
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}
	slog.Info("opcua-server daemon started, waiting for signals or commands")
	return d.Run()
}
