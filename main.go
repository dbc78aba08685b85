// Package main is the entry point for the opcua-server CLI and daemon.
package main

import (
	"fmt"
	"os"

	"github.com/coriolis-automation/opcua-server/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
