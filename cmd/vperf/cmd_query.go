package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/willibrandon/vperf/internal/perf"
	"github.com/willibrandon/vperf/internal/report"
)

// windowFlags are the time-window flags shared by query, top and export.
type windowFlags struct {
	cycle string
	start string
	end   string
}

func (f *windowFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.cycle, "cycle", "", "rollup cycle: day, week, month or year")
	cmd.Flags().StringVar(&f.start, "start", "", `window start, "2006-01-02 15:04:05" or RFC3339`)
	cmd.Flags().StringVar(&f.end, "end", "", "window end, same layout as --start")
	cmd.MarkFlagsMutuallyExclusive("cycle", "start")
	cmd.MarkFlagsMutuallyExclusive("cycle", "end")
}

// spec decides the window shape once; no flags means the last hour.
func (f *windowFlags) spec() (perf.TimeSpec, error) {
	return perf.ParseTimeSpec(f.cycle, f.start, f.end)
}

// newQueryCmd creates the query subcommand
func newQueryCmd() *cobra.Command {
	var (
		entities []string
		window   windowFlags
		output   string
		plot     bool
		samples  bool
	)

	cmd := &cobra.Command{
		Use:   "query [kind/id...]",
		Short: "Retrieve samples for one or more entities",
		Long: `Retrieve performance samples for the given entities over a time window.

The table shows which source served the window (historical rollups,
the real-time buffer, or both) and a summary per metric. Several entities
are retrieved in one session, so they share the same real-time boundary.`,
		Example: `  vperf query vm/web-01
  vperf query -e host/node1 -e vm/web-01 --cycle day -o json
  vperf query -e vm/web-01 --start "2025-01-01 10:00:00" --end "2025-01-01 12:00:00" --plot`,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := append(entities, args...)
			if len(raw) == 0 {
				return fmt.Errorf("at least one entity is required (--entity kind/id)")
			}
			spec, err := window.spec()
			if err != nil {
				return err
			}
			format, err := report.ParseFormat(output)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.close()

			targets, err := parseEntities(raw)
			if err != nil {
				return err
			}

			opts := []report.Option{report.WithCounters(e.counters(ctx))}
			if samples {
				opts = append(opts, report.WithSamples())
			}

			reports, failed, err := runQuery(ctx, e, targets, spec, cmd, opts)
			if err != nil {
				return err
			}
			if len(reports) > 0 {
				if err := report.Render(cmd.OutOrStdout(), reports, report.Options{
					Format: format,
					Color:  useColor(),
					Plot:   plot,
					Width:  termWidth(),
				}); err != nil {
					return err
				}
			}

			if failed > 0 {
				return &partialError{failed: failed, total: len(targets)}
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&entities, "entity", "e", nil, "entity as kind/id (cluster, host or vm), repeatable")
	window.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, json or yaml")
	cmd.Flags().BoolVar(&plot, "plot", false, "draw a chart per metric (table output)")
	cmd.Flags().BoolVar(&samples, "samples", false, "include raw samples (json and yaml output)")
	return cmd
}

// runQuery retrieves every target in one session and builds a report per
// success. Failures are printed to stderr and counted.
func runQuery(ctx context.Context, e *env, targets []perf.Entity, spec perf.TimeSpec, cmd *cobra.Command, opts []report.Option) ([]report.Report, int, error) {
	qctx, cancel := e.queryContext(ctx)
	defer cancel()

	session, err := e.engine.NewSession(qctx)
	if err != nil {
		return nil, 0, err
	}
	e.logger.Debug("query session",
		"now", session.Now,
		"boundary", session.Boundary,
		"spec", spec.String(),
		"entities", len(targets))

	var reports []report.Report
	failed := 0
	for _, r := range retrieveAll(qctx, session, targets, spec) {
		if r.err != nil {
			failed++
			if len(targets) == 1 {
				printError(cmd.ErrOrStderr(), r.err)
			} else {
				printEntityError(cmd.ErrOrStderr(), r.entity, r.err)
			}
			continue
		}
		reports = append(reports, report.Build(r.result, opts...))
	}
	return reports, failed, nil
}
