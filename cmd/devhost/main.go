package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/devhost/pkg/client"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := buildRoot()
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds the persistent flags shared by every command
type GlobalFlags struct {
	ConfigPath string
}

// buildRoot creates the root command with all subcommands attached
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRunCommand(globalFlags),
		createProvisionCommand(globalFlags),
		createProbeCommand(),
		createStatusCommand(),
		createStopCommand(),
		createInitCommand(),
		createHistoryCommand(globalFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "devhost",
		Short: "Start a local dev server and hand it to the host once ready",
		Long: `devhost makes sure a local front-end dev server is running before the
host application uses it. It probes the port, provisions a development
identity and server config when missing, launches the dev server, waits for
it to announce readiness and then proxies requests to it.

Examples:
  devhost init --type vite              # write devhost.toml
  devhost run devhost.toml              # supervise and proxy
  devhost status                        # ask a running devhost
  devhost probe --port 3000             # is anything listening?`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")

	return root
}

// createRunCommand creates the run subcommand
func createRunCommand(globalFlags *GlobalFlags) *cobra.Command {
	runFlags := &RunFlags{}
	cmd := &cobra.Command{
		Use:   "run [config.toml]",
		Short: "Supervise the dev server and proxy to it",
		Long: `Run the startup sequence and serve the proxy until interrupted.
A dev server found already listening is used as is and never stopped.

Examples:
  devhost run devhost.toml
  devhost run --stop-on-exit=false      # leave the launched dev server running on Ctrl+C
  devhost run --no-server               # supervise only, no proxy listener`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runFlags.ConfigPath = globalFlags.ConfigPath
			if len(args) > 0 {
				runFlags.ConfigPath = args[0]
			}
			return runDevhost(cmd.Context(), *runFlags, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&runFlags.StopOnExit, "stop-on-exit", true, "stop a dev server launched by devhost when devhost exits")
	cmd.Flags().DurationVar(&runFlags.StopWait, "stop-wait", 5*time.Second, "grace period before the dev server is killed")
	cmd.Flags().BoolVar(&runFlags.NoServer, "no-server", false, "do not start the proxy/admin listener")
	return cmd
}

// createProvisionCommand creates the provision subcommand
func createProvisionCommand(globalFlags *GlobalFlags) *cobra.Command {
	f := &ProvisionFlags{}
	cmd := &cobra.Command{
		Use:   "provision [dir]",
		Short: "Create the development identity and dev server config if missing",
		Long: `Create the identity file and dev server config in dir (default: the
configured source_dir). Existing files are left untouched.

Examples:
  devhost provision
  devhost provision ./ClientApp --config devhost.toml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = globalFlags.ConfigPath
			if len(args) > 0 {
				f.Dir = args[0]
			}
			return runProvision(cmd.Context(), *f, cmd.OutOrStdout())
		},
	}
	return cmd
}

// createProbeCommand creates the probe subcommand
func createProbeCommand() *cobra.Command {
	f := &ProbeFlags{}
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Report whether a local TCP listener is bound to a port",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(*f, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&f.Port, "port", 3000, "port to probe")
	return cmd
}

// createStatusCommand creates the status subcommand
func createStatusCommand() *cobra.Command {
	f := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status reported by a running devhost",
		Long: `Query a running devhost for its supervisor status.

Examples:
  devhost status
  devhost status --wait-ready 30s       # block until the dev server is ready
  devhost status --api-url=https://127.0.0.1:8443/_devhost --insecure`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), *f, cmd.OutOrStdout())
		},
	}
	addAPIFlags(cmd, f)
	cmd.Flags().DurationVar(&f.WaitReady, "wait-ready", 0, "poll until ready or the duration elapses")
	return cmd
}

// createStopCommand creates the stop subcommand
func createStopCommand() *cobra.Command {
	f := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Ask a running devhost to stop the dev server it launched",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(cmd.Context(), *f, cmd.OutOrStdout())
		},
	}
	addAPIFlags(cmd, f)
	cmd.Flags().DurationVar(&f.Wait, "wait", 5*time.Second, "grace period before the dev server is killed")
	return cmd
}

// createInitCommand creates the init subcommand
func createInitCommand() *cobra.Command {
	f := &InitFlags{}
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter devhost config",
		Long: `Generate a devhost configuration for a dev server toolchain.

Supported types: vite (default), vite-http, next, angular, simple

Examples:
  devhost init
  devhost init --type next --name shop --output shop.toml
  devhost init --type angular --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(*f, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&f.Type, "type", "vite", "dev server toolchain")
	cmd.Flags().StringVar(&f.Name, "name", "", "dev server name (default: devserver)")
	cmd.Flags().StringVar(&f.Output, "output", "devhost.toml", "output file")
	cmd.Flags().StringVar(&f.Format, "format", "toml", "output format: toml or json")
	cmd.Flags().BoolVar(&f.Force, "force", false, "overwrite an existing file")
	return cmd
}

// createHistoryCommand creates the history subcommand
func createHistoryCommand(globalFlags *GlobalFlags) *cobra.Command {
	f := &HistoryFlags{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent supervision events from a SQLite history store",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = globalFlags.ConfigPath
			return runHistory(cmd.Context(), *f, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&f.DSN, "dsn", "", "history DSN (default: history.dsn from config)")
	cmd.Flags().StringVar(&f.Name, "name", "", "dev server name (default: devserver.name from config)")
	cmd.Flags().IntVar(&f.Limit, "limit", 20, "maximum events to show")
	return cmd
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", client.DefaultBaseURL, "devhost admin URL")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().BoolVar(&f.Insecure, "insecure", false, "skip TLS verification")
}
