// Package cli implements the wsclient command-line interface.
package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// Global flags shared by all subcommands.
var (
	jsonOutput    bool
	logLevel      string
	logFormat     string
	transportName string
	profilePath   string
	headerFlags   []string
	subprotocols  []string
	timeout       time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "wsclient",
	Short: "Command-line WebSocket client",
	Long: `wsclient connects to WebSocket endpoints for interactive testing:
send messages, stream incoming ones, and watch connection lifecycle events.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// SetVersion wires build-time version information into the root command.
func SetVersion(version, commit, date string) {
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVar(&jsonOutput, "json", false, "Output messages and events in JSON format")
	pf.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "text", "Log format (text, json)")
	pf.StringVar(&transportName, "transport", "", "WebSocket transport (coder, gorilla)")
	pf.StringVar(&profilePath, "config", "", "YAML profile with connection defaults")
	pf.StringArrayVarP(&headerFlags, "header", "H", nil, "Custom handshake headers (key:value), repeatable")
	pf.StringArrayVar(&subprotocols, "subprotocol", nil, "Subprotocols to offer, repeatable")
	pf.DurationVarP(&timeout, "timeout", "t", 0, "Handshake timeout")
}
