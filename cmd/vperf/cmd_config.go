package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/willibrandon/vperf/internal/config"
)

// newConfigCmd creates the config subcommand
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(newConfigInitCmd(), newConfigValidateCmd())
	return cmd
}

func defaultConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return filepath.Join(config.DefaultConfigDir(), "config.yaml")
}

// newConfigInitCmd creates the config init subcommand
func newConfigInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultConfigPath()
			if err := config.WriteDefault(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

// newConfigValidateCmd creates the config validate subcommand
func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Configuration is valid")
			fmt.Fprintf(out, "  Database:        %s\n", cfg.Storage.Path)
			if cfg.Storage.PostgresDSN != "" {
				fmt.Fprintln(out, "  Rollup store:    postgres")
			}
			fmt.Fprintf(out, "  Libvirt:         %s\n", cfg.Libvirt.URI)
			fmt.Fprintf(out, "  Real-time:       %s\n", cfg.Retention.RealtimeWindow)
			fmt.Fprintf(out, "  Refresh rate:    %s\n", cfg.Collector.RefreshRate)
			return nil
		},
	}
}
