package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/willibrandon/vperf/internal/ui"
	"github.com/willibrandon/vperf/internal/ui/watch"
)

// newWatchCmd creates the watch subcommand
func newWatchCmd() *cobra.Command {
	var (
		entities []string
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch [kind/id...]",
		Short: "Live view of recent samples",
		Long: `Open a live view that refreshes the latest samples of each entity.

Without entities, every entity vperf-agent has reported is shown.
Tab cycles the window (last hour, 6 hours, 24 hours, 7 days), p toggles
charts for the selected entity and y copies its report as JSON.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.close()

			targets, err := e.entities(ctx, append(entities, args...))
			if err != nil {
				return err
			}
			if interval <= 0 {
				interval = e.cfg.Collector.RefreshRate
			}

			return watch.Run(ctx, watch.Config{
				Source:    e.engine,
				Entities:  targets,
				Windows:   watch.DefaultWindows,
				Interval:  interval,
				Timeout:   e.cfg.Query.Timeout,
				Counters:  e.counters(ctx),
				Clipboard: ui.NewClipboardWriter(),
			})
		},
	}

	cmd.Flags().StringArrayVarP(&entities, "entity", "e", nil, "entity as kind/id, repeatable (default all)")
	cmd.Flags().DurationVarP(&interval, "interval", "n", 0, "refresh interval (default collector.refresh_rate)")
	return cmd
}
