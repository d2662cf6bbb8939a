package main

import (
	"errors"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	// Version info (set by ldflags)
	version = "dev"

	// Flags
	configPath string
	debug      bool
	noColor    bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Per-entity failures were already reported
		var partial *partialError
		if !errors.As(err, &partial) {
			printError(os.Stderr, err)
		}
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "vperf",
		Short: "Query hypervisor performance samples",
		Long: `vperf retrieves performance samples for clusters, hosts and VMs.

A window either names a rollup cycle (day, week, month, year) or gives an
explicit start and end. Windows that end before the real-time boundary are
read from rollups, windows after it from the real-time buffer kept by
vperf-agent, and windows that straddle it from both.

Examples:
  vperf query -e vm/web-01                          Last hour
  vperf query -e host/node1 --cycle week            Latest weekly rollup
  vperf query -e vm/web-01 --start "2025-01-01 10:00:00" --end "2025-01-01 12:00:00"
  vperf watch                                       Live view of every entity
  vperf top --counter cpu.usage.average             Rank entities`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor || !term.IsTerminal(int(os.Stdout.Fd())) {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/vperf/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(
		newQueryCmd(),
		newWatchCmd(),
		newTopCmd(),
		newExportCmd(),
		newCyclesCmd(),
		newCountersCmd(),
		newEntitiesCmd(),
		newConfigCmd(),
	)
	return rootCmd
}

// useColor reports whether output may carry ANSI styling.
func useColor() bool {
	return !color.NoColor
}

// termWidth returns the width of stdout, or 0 when it is not a terminal.
func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 0
	}
	return w
}

// Exit codes. exitPartial means some entities succeeded; exitConfigError
// matches vperf-agent's.
const (
	exitFailure     = 1
	exitPartial     = 2
	exitConfigError = 3
)

func exitCode(err error) int {
	var partial *partialError
	switch {
	case isConfigError(err):
		return exitConfigError
	case errors.As(err, &partial) && partial.failed < partial.total:
		return exitPartial
	default:
		return exitFailure
	}
}
