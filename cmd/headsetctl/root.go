package main

import (
	"github.com/spf13/cobra"
)

var (
	socketPath string
	apiURL     string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "headsetctl",
	Short: "Control a running headsetd",
	Long: `headsetctl talks to a running headsetd daemon.

Writes (simulate, clear, note, candidate) go over the daemon's Unix socket.
Reads (status, watch) go over its HTTP API.

  - simulate    Record a manual-trigger press
  - candidate   Record a press from an arbitrary source label
  - clear       Clear the debug log
  - note        Append a line to the debug log
  - status      Print the current detection state
  - watch       Stream state changes from the websocket feed`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "/tmp/headsetd.sock", "Unix domain socket path of the daemon")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "http://127.0.0.1:3001", "Base URL of the daemon HTTP API")

	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(candidateCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(noteCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
}
