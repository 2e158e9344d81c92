// Package main provides the discograph CLI: the ingestion server plus
// operational verbs for replaying stored events and checking bundles.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "discograph",
	Short: "Event-sourced music metadata graph ingestion",
	Long: `discograph consumes blockchain-anchored metadata events and projects
them into a property graph.

Examples:
  discograph serve                     # Run the ingestion server
  discograph replay <event-hash>       # Re-dispatch a stored event
  discograph check-bundle bundle.json  # Normalize and validate a bundle
  discograph hash bundle.json          # Canonical hash of a JSON file`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(checkBundleCmd)
	rootCmd.AddCommand(hashCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error: "+err.Error())
		os.Exit(1)
	}
}
