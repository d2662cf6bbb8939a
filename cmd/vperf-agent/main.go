package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/willibrandon/vperf/internal/agent"
	"github.com/willibrandon/vperf/internal/config"
	"github.com/willibrandon/vperf/internal/logger"
)

var (
	// Version info (set by ldflags)
	version = "dev"

	// Flags
	configPath string
	debug      bool
	userMode   bool
	jsonOutput bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vperf-agent",
		Short: "vperf hypervisor sampling agent",
		Long: `vperf-agent is a background daemon that samples libvirt hosts and
domains, keeps the one-hour real-time buffer in SQLite and rolls closed
buckets up into the historical store that vperf queries.

Service Management:
  vperf-agent install [--user]   Install as system/user service
  vperf-agent uninstall          Remove the service
  vperf-agent start              Start the installed service
  vperf-agent stop               Stop the running service
  vperf-agent restart            Restart the service
  vperf-agent status [--json]    Show service status

Direct Run (for debugging):
  vperf-agent run [--debug]      Run in foreground mode`,
		Version: version,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/vperf/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newRunCmd(),
		newInstallCmd(),
		newStatusCmd(),
	)
	rootCmd.AddCommand(newControlCmds()...)

	if err := rootCmd.Execute(); err != nil {
		// Error already printed by cobra
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadConfigFromPath(configPath)
	}
	return config.LoadConfig()
}

// newRunCmd creates the run subcommand. The service manager also invokes
// it, in which case control is handed to kardianos/service.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run agent in foreground (for debugging)",
		Long:  `Run the agent in foreground mode. Useful for debugging and testing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			agent.Version = version
			if !service.Interactive() {
				return runService()
			}
			return runForeground()
		},
	}
}

func runService() error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(agent.ExitConfigError)
	}
	logger.InitLogger(logger.LevelFromDebug(debug || cfg.Debug), cfg.LogFile, nil)
	defer logger.Close()

	return agent.RunService(agent.ServiceConfig{
		ConfigPath: configPath,
		Debug:      debug,
	})
}

// runForeground runs the agent until SIGINT or SIGTERM.
func runForeground() error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(agent.ExitConfigError)
	}

	debugMode := debug || cfg.Debug
	var console io.Writer
	if debugMode {
		console = os.Stderr
	}
	logger.InitLogger(logger.LevelFromDebug(debugMode), cfg.LogFile, console)
	defer logger.Close()

	a, err := agent.New(cfg, debugMode, agent.WithLogger(logger.With()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating agent: %v\n", err)
		os.Exit(agent.ExitConfigError)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("vperf-agent %s sampling %s (refresh %s), press Ctrl+C to stop\n",
		version, cfg.Libvirt.URI, cfg.Collector.RefreshRate)

	if err := a.Run(ctx); err != nil {
		if agent.IsDiskFullError(err) {
			fmt.Fprintf(os.Stderr, "Error: %v\nFree space under %s and retry\n", err, cfg.Storage.Path)
			os.Exit(agent.ExitStartFailed)
		}
		fmt.Fprintf(os.Stderr, "Error running agent: %v\n", err)
		os.Exit(agent.ExitStartFailed)
	}
	fmt.Println("\nvperf-agent stopped")
	printRunSummary()
	return nil
}

// printRunSummary lists the warnings and errors logged during a foreground run.
func printRunSummary() {
	warns, errs := logger.GetCounts()
	if warns == 0 && errs == 0 {
		return
	}
	fmt.Printf("%d warnings, %d errors (log: %s)\n", warns, errs, logger.LogPath)
	for _, entry := range logger.Recent(5) {
		fmt.Printf("  %s\n", entry.Format())
	}
}

// exitOnServiceError prints err with a hint and exits with the code the
// service sentinel maps to.
func exitOnServiceError(err error, action string, fallback int) {
	var permErr *agent.PermissionError
	switch {
	case errors.As(err, &permErr):
		fmt.Fprintf(os.Stderr, "Error: %v\n", permErr)
		os.Exit(agent.ExitPermissionDenied)
	case errors.Is(err, agent.ErrServiceInstalled):
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Use 'vperf-agent uninstall' first to reinstall\n")
		os.Exit(agent.ExitServiceExists)
	case errors.Is(err, agent.ErrServiceNotInstalled):
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if action != "uninstall" && action != "stop" {
			fmt.Fprintf(os.Stderr, "Use 'vperf-agent install' first\n")
		}
		os.Exit(agent.ExitServiceNotFound)
	case errors.Is(err, agent.ErrServiceRunning):
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(agent.ExitAlreadyRunning)
	case errors.Is(err, agent.ErrServiceNotRunning):
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(agent.ExitNotRunning)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(fallback)
}

func requireSudo(action string) {
	if agent.RequiresSudo() {
		fmt.Fprintf(os.Stderr, "Error: system service installed, requires sudo\n")
		fmt.Fprintf(os.Stderr, "Run: sudo vperf-agent %s\n", action)
		os.Exit(agent.ExitPermissionDenied)
	}
}

// newInstallCmd creates the install subcommand
func newInstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install vperf-agent as a system service",
		Long: `Install vperf-agent as a system service that starts on boot.

Use --user to install as a user service (no elevated privileges required).
System service installation requires administrator/root privileges.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				if _, err := config.LoadConfigFromPath(configPath); err != nil {
					fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
					os.Exit(agent.ExitConfigError)
				}
			}

			svcConfig := agent.ServiceConfig{
				ConfigPath: configPath,
				UserMode:   userMode,
				Debug:      debug,
			}
			if err := agent.Install(svcConfig); err != nil {
				exitOnServiceError(err, "install", agent.ExitConfigError)
			}

			fmt.Println("vperf-agent installed successfully")
			if userMode {
				fmt.Println("Installed as user service")
			} else {
				fmt.Println("Installed as system service")
			}
			fmt.Println("\nTo start the service:")
			fmt.Println("  vperf-agent start")
			return nil
		},
	}
	cmd.Flags().BoolVar(&userMode, "user", false, "install as user service instead of system")
	return cmd
}

// controlCmd describes a service manager subcommand.
type controlCmd struct {
	use, short, done string
	fallback         int
	run              func() error
}

// newControlCmds creates uninstall, start, stop and restart. A system
// service needs root on every platform, so each checks for sudo first.
func newControlCmds() []*cobra.Command {
	specs := []controlCmd{
		{"uninstall", "Stop and remove the vperf-agent service", "uninstalled", 1, agent.Uninstall},
		{"start", "Start the installed service", "started", agent.ExitStartFailed, agent.Start},
		{"stop", "Stop the running service", "stopped", agent.ExitStopFailed, agent.Stop},
		{"restart", "Stop and start the service", "restarted", agent.ExitRestartFailed, agent.Restart},
	}
	cmds := make([]*cobra.Command, 0, len(specs))
	for _, spec := range specs {
		cmds = append(cmds, &cobra.Command{
			Use:   spec.use,
			Short: spec.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				requireSudo(spec.use)
				if err := spec.run(); err != nil {
					exitOnServiceError(err, spec.use, spec.fallback)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "vperf-agent %s\n", spec.done)
				return nil
			},
		})
	}
	return cmds
}

// statusExitCode maps a status to the exit code scripts check: 0 healthy,
// 3 running with errors or a stale sampling pass.
func statusExitCode(status *agent.Status) int {
	switch status.State {
	case "not_installed":
		return agent.ExitServiceNotFound
	case "stopped":
		return agent.ExitStopped
	case "running":
		if len(status.Errors) > 0 || status.Stale {
			return agent.ExitUnhealthy
		}
		return agent.ExitSuccess
	}
	return 1
}

// newStatusCmd creates the status subcommand
func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show service state and sampling health",
		Long: `Show whether the agent runs, when it last sampled and rolled up, how many
entities it sees and the errors it recorded.

Exit status is 0 when healthy, 3 when running with errors or stale samples,
and non-zero when the service is stopped or not installed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// A broken config still lets us report the service state
			cfg, _ := loadConfig()

			status, err := agent.GetStatus(cfg)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(status); err != nil {
					return err
				}
			} else {
				printHumanStatus(out, status)
			}
			os.Exit(statusExitCode(status))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	return cmd
}

// printHumanStatus prints the status as aligned fields, skipping the ones
// the agent has not reported yet.
func printHumanStatus(w io.Writer, status *agent.Status) {
	fmt.Fprintf(w, "vperf-agent status: %s\n", status.State)

	switch status.State {
	case "not_installed":
		fmt.Fprintln(w, "\nTo install the service:\n  vperf-agent install")
		return
	case "stopped":
		fmt.Fprintln(w, "\nTo start the service:\n  vperf-agent start")
		return
	}

	lastSample := status.LastSample
	if status.Stale {
		lastSample += " (stale)"
	}
	pid := ""
	if status.PID > 0 {
		pid = strconv.Itoa(status.PID)
	}
	fields := []struct{ label, value string }{
		{"PID", pid},
		{"Uptime", status.Uptime},
		{"Last sample", lastSample},
		{"Last rollup", status.LastRollup},
		{"Entities", strconv.Itoa(status.Entities)},
		{"Version", status.Version},
		{"Config", status.ConfigHash},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) != "" {
			fmt.Fprintf(w, "  %-13s %s\n", f.label+":", f.value)
		}
	}

	if len(status.Errors) == 0 {
		fmt.Fprintln(w, "\nErrors: none")
		return
	}
	fmt.Fprintf(w, "\nErrors (%d total):\n", status.ErrorCount)
	for _, e := range status.Errors {
		fmt.Fprintf(w, "  - %s\n", e)
	}
}
