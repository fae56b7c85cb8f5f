// Package main provides the connect CLI, a host for the Connect Button SDK.
//
// The CLI drives the same components an embedding app would: it fetches
// connections, runs the authorization flow by printing redirect URLs, ingests
// redirect results, and uploads queued analytics and geofence events.
//
// # Basic Usage
//
// Show a connection and its button state:
//
//	connect show <connection-id>
//
// Start the authorization flow and finish it with the redirect the browser
// lands on:
//
//	connect authorize <connection-id> --email me@example.com
//	connect redirect <connection-id> 'myapp://callback?next_step=complete&user_token=...'
//
// Upload queued events on their schedules and expose metrics:
//
//	connect run
//
// # Environment Variables
//
//   - CONNECT_CONFIG: Path to configuration file (default: connect.yaml)
//   - CONNECT_USER_TOKEN: referenced from config as ${CONNECT_USER_TOKEN}
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	var configPath string
	rootCmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect Button SDK host",
		Long: `connect drives the Connect Button SDK from the command line.

It shows connections, runs the enable and disable flows, and uploads the
analytics and geofence events the SDK queues on disk.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file (YAML or JSON5)")

	rootCmd.AddCommand(
		buildShowCmd(&configPath),
		buildAuthorizeCmd(&configPath),
		buildRedirectCmd(&configPath),
		buildDisableCmd(&configPath),
		buildReenableCmd(&configPath),
		buildEventsCmd(&configPath),
		buildGeofenceCmd(&configPath),
		buildConfigCmd(&configPath),
		buildRunCmd(&configPath),
		buildVersionCmd(),
	)
	return rootCmd
}

func defaultConfigPath() string {
	if path := os.Getenv("CONNECT_CONFIG"); path != "" {
		return path
	}
	return "connect.yaml"
}
