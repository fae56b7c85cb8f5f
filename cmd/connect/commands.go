package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// =============================================================================
// Connection Commands
// =============================================================================

func buildShowCmd(configPath *string) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show <connection-id>",
		Short: "Show a connection and its button state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *configPath, func(env *cmdEnv) error {
				return runShow(env, args[0], format)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format (text, json)")
	return cmd
}

func buildAuthorizeCmd(configPath *string) *cobra.Command {
	var (
		email   string
		openApp bool
	)
	cmd := &cobra.Command{
		Use:   "authorize <connection-id>",
		Short: "Start the enable flow for a connection",
		Long: `Start the enable flow for a connection.

The account for the email is looked up while the app's OAuth code is requested,
then the URL that continues the flow is printed. Open it, and pass the URI the
browser is finally redirected to into "connect redirect".

Signed-in users (a stored user token) need no email.`,
		Example: `  connect authorize conn_123 --email me@example.com
  connect authorize conn_123 --email me@example.com --app`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *configPath, func(env *cmdEnv) error {
				return runAuthorize(env, args[0], email, openApp)
			})
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "Email of the account to connect")
	cmd.Flags().BoolVar(&openApp, "app", false, "Redirect through the companion app scheme (web.app_scheme)")
	return cmd
}

func buildRedirectCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "redirect <connection-id> <redirect-uri>",
		Short: "Resume a flow with the URI the web flow redirected to",
		Example: `  connect redirect conn_123 'myapp://callback?next_step=complete&user_token=...'
  connect redirect conn_123 'myapp://callback?next_step=error&error_type=canceled'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *configPath, func(env *cmdEnv) error {
				return runRedirect(env, args[0], args[1])
			})
		},
	}
	return cmd
}

func buildDisableCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "disable <connection-id>",
		Short: "Disable an enabled connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *configPath, func(env *cmdEnv) error {
				return runDisable(env, args[0])
			})
		},
	}
}

func buildReenableCmd(configPath *string) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "reenable <connection-id>",
		Short: "Turn a disabled connection back on",
		Long: `Turn a disabled connection back on.

With a stored user token the reenable endpoint is called directly, unless
sdk.replay_oauth_on_reenable is set; otherwise the login flow is started.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *configPath, func(env *cmdEnv) error {
				return runReenable(env, args[0], email)
			})
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "Email used when the login flow is needed")
	return cmd
}

// =============================================================================
// Events Commands
// =============================================================================

func buildEventsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect and upload queued events",
		Long: `Inspect and upload the analytics and location events queued on disk.

Events are uploaded oldest first and removed only after the server accepted
them.`,
	}
	cmd.AddCommand(
		buildEventsStatusCmd(configPath),
		buildEventsFlushCmd(configPath),
		buildEventsTrackCmd(configPath),
		buildEventsOptOutCmd(configPath),
	)
	return cmd
}

func buildEventsStatusCmd(configPath *string) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue sizes and analytics settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *configPath, func(env *cmdEnv) error {
				return runEventsStatus(env, format)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format (text, json)")
	return cmd
}

func buildEventsFlushCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Upload every queued event now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *configPath, runEventsFlush)
		},
	}
}

func buildEventsTrackCmd(configPath *string) *cobra.Command {
	var props map[string]string
	cmd := &cobra.Command{
		Use:     "track <event-name>",
		Short:   "Queue a custom analytics event",
		Example: `  connect events track sdk.click --prop object_id=conn_123 --prop target=connect`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *configPath, func(env *cmdEnv) error {
				return runEventsTrack(env, args[0], props)
			})
		},
	}
	cmd.Flags().StringToStringVarP(&props, "prop", "p", nil, "Event property as key=value (repeatable)")
	return cmd
}

func buildEventsOptOutCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:       "opt-out <on|off>",
		Short:     "Stop or resume analytics recording",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *configPath, func(env *cmdEnv) error {
				return runEventsOptOut(env, args[0])
			})
		},
	}
}

// =============================================================================
// Geofence Commands
// =============================================================================

func buildGeofenceCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "geofence",
		Short: "Work with a connection's geofence regions",
	}
	cmd.AddCommand(
		buildGeofenceRegionsCmd(configPath),
		buildGeofenceReportCmd(configPath),
	)
	return cmd
}

func buildGeofenceRegionsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "regions <connection-id>",
		Short: "List the regions an enabled connection watches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *configPath, func(env *cmdEnv) error {
				return runGeofenceRegions(env, args[0])
			})
		},
	}
}

func buildGeofenceReportCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:       "report <connection-id> <region-id> <entry|exit>",
		Short:     "Queue a region crossing for upload",
		Example:   `  connect geofence report conn_123 trigger_456 entry`,
		Args:      cobra.ExactArgs(3),
		ValidArgs: []string{"entry", "exit"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *configPath, func(env *cmdEnv) error {
				return runGeofenceReport(env, args[0], args[1], args[2])
			})
		},
	}
}

// =============================================================================
// Config Commands
// =============================================================================

func buildConfigCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate configuration or print its schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "validate",
			Short: "Load and validate the configuration file",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigValidate(cmd, *configPath)
			},
		},
		&cobra.Command{
			Use:   "schema",
			Short: "Print the configuration JSON Schema",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigSchema(cmd)
			},
		},
	)
	return cmd
}

// =============================================================================
// Run Command
// =============================================================================

func buildRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Upload queued events on schedule until interrupted",
		Long: `Run the upload scheduler in the foreground.

Queues are flushed on their cron schedules and whenever the analytics queue
reaches its flush threshold. Prometheus metrics are served when
observability.metrics.enabled is set. SIGINT or SIGTERM stops the scheduler
after a final flush.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *configPath, runRun)
		},
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "connect %s\ncommit: %s\nbuilt: %s\n", version, commit, date)
		},
	}
}
