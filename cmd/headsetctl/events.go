package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Record a manual-trigger press",
	Long: `Record a press as if the headset button had been pressed. It goes through
the same debounce window as hardware presses.

Examples:
  headsetctl simulate
  headsetctl --socket /run/headsetd.sock simulate`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendAndReport(cmd, Envelope{Type: "simulate"})
	},
}

var candidateCmd = &cobra.Command{
	Use:   "candidate <source>",
	Short: "Record a press from an arbitrary source label",
	Long: `Record a candidate press labelled with source, e.g. to replay what a
particular adapter would report.

Examples:
  headsetctl candidate keydown-MediaPlayPause
  headsetctl candidate transport-play`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source := strings.TrimSpace(args[0])
		if source == "" {
			return fmt.Errorf("source must not be empty")
		}
		env, err := newEnvelope("candidate", candidateData{Source: source})
		if err != nil {
			return err
		}
		return sendAndReport(cmd, env)
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the debug log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendAndReport(cmd, Envelope{Type: "clear_debug"})
	},
}

var noteCmd = &cobra.Command{
	Use:   "note <message...>",
	Short: "Append a line to the debug log",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnvelope("note", noteData{Message: strings.Join(args, " ")})
		if err != nil {
			return err
		}
		return sendAndReport(cmd, env)
	},
}

func sendAndReport(cmd *cobra.Command, env Envelope) error {
	if err := SendIPCEvent(socketPath, env); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "ok")
	return nil
}
